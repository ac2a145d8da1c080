package lifecycle

import "sync/atomic"

// Lifecycle holds the process draining flag shared by the readiness probe
// and the stream handlers. A nil Lifecycle never drains.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
