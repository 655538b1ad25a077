// Package connectivity tracks whether the remote document store is reachable
// and notifies subscribers when that changes.
package connectivity

import "sync"

// Observer exposes the current connectivity and transition notifications.
type Observer interface {
	Online() bool
	// Subscribe registers fn for transitions; the returned func unsubscribes.
	Subscribe(fn func(online bool)) (cancel func())
}

// subscribers is the shared notification list of Monitor and Switch.
type subscribers struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(bool)
}

func (s *subscribers) add(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(bool))
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) notify(online bool) {
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}

// Switch is a manually driven Observer.
type Switch struct {
	mu     sync.Mutex
	online bool
	subs   subscribers
}

// NewSwitch returns a Switch in the given state.
func NewSwitch(online bool) *Switch {
	return &Switch{online: online}
}

func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Switch) Subscribe(fn func(bool)) func() {
	return s.subs.add(fn)
}

// Set changes the state, notifying subscribers on a transition.
func (s *Switch) Set(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()
	if changed {
		s.subs.notify(online)
	}
}
