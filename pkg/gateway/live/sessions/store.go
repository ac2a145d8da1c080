// Package sessions keeps the live-call registry keyed by call id.
package sessions

import (
	"context"
	"errors"
	"sync"
)

// ErrExists is returned when a call id already has a live session.
var ErrExists = errors.New("session already exists for call")

// Handle is what the registry needs to reach a live session from outside
// its run loop.
type Handle struct {
	Cancel func()
	Notify func(message string) error
}

// Store is the keyed lookup table of live sessions.
type Store interface {
	Create(callID string, h Handle) error
	Get(callID string) (Handle, bool)
	Remove(callID string) bool
	Len() int
}

// MemoryStore is an in-process Store. Each server owns its own instance.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	// empty is closed while no session is registered.
	empty chan struct{}
}

type trackedSession struct {
	handle Handle
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{sessions: make(map[string]*trackedSession)}
	s.empty = closedChan()
	return s
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Create registers h under callID. A second live session for the same call
// is rejected with ErrExists.
func (s *MemoryStore) Create(callID string, h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string]*trackedSession)
	}
	if _, exists := s.sessions[callID]; exists {
		return ErrExists
	}
	if len(s.sessions) == 0 {
		s.empty = make(chan struct{})
	}
	s.sessions[callID] = &trackedSession{handle: h}
	return nil
}

func (s *MemoryStore) Get(callID string) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[callID]
	if !ok {
		return Handle{}, false
	}
	return entry.handle, true
}

// Remove deletes the session for callID. It reports false when the entry
// was already gone, so teardown paths may call it more than once.
func (s *MemoryStore) Remove(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[callID]
	if !ok {
		return false
	}
	delete(s.sessions, callID)
	if len(s.sessions) == 0 && s.empty != nil {
		close(s.empty)
	}
	return true
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// NotifyAll sends message to every live session and returns how many
// handles accepted it.
func (s *MemoryStore) NotifyAll(message string) (sent int) {
	var notifies []func(message string) error
	s.mu.Lock()
	for _, entry := range s.sessions {
		if entry.handle.Notify == nil {
			continue
		}
		notifies = append(notifies, entry.handle.Notify)
	}
	s.mu.Unlock()

	for _, notify := range notifies {
		if notify(message) == nil {
			sent++
		}
	}
	return sent
}

// CloseAll cancels every live session. Entries are removed by the sessions
// themselves as they finish.
func (s *MemoryStore) CloseAll() (canceled int) {
	var cancels []func()
	s.mu.Lock()
	for _, entry := range s.sessions {
		if entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until no session is registered or ctx is done. Sessions may
// still be created while Wait is blocked; Wait returns once the registry is
// empty at any point.
func (s *MemoryStore) Wait(ctx context.Context) bool {
	s.mu.Lock()
	if s.empty == nil {
		s.empty = closedChan()
		if len(s.sessions) > 0 {
			s.empty = make(chan struct{})
		}
	}
	empty := s.empty
	s.mu.Unlock()

	if ctx == nil {
		<-empty
		return true
	}
	select {
	case <-empty:
		return true
	case <-ctx.Done():
		return false
	}
}
