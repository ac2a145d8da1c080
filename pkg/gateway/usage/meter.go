// Package usage reports billable call activity to metering backends.
package usage

import (
	"context"
	"errors"
	"time"
)

// Kind names a billable unit.
type Kind string

const (
	// KindTurn is one completed agent reply.
	KindTurn Kind = "turn"
	// KindCallSeconds is the wall-clock length of a call session.
	KindCallSeconds Kind = "call_seconds"
)

// Event is one usage record.
type Event struct {
	Kind     Kind
	CallID   string
	UserID   string
	AgentID  string
	Quantity int64
	At       time.Time
}

// Meter records usage events. Implementations must be safe for concurrent use.
type Meter interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Multi fans an event out to every meter and joins their errors.
type Multi []Meter

func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, meter := range m {
		if meter == nil {
			continue
		}
		if err := meter.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
