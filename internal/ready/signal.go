package ready

// Signal is a one-shot broadcast. Listeners registered before Fire are
// invoked in registration order, exactly once.
//
// A Signal is owned by a single goroutine and is not safe for concurrent use.
type Signal struct {
	listeners []func()
	fired     bool
}

// Subscribe registers fn. It returns false without registering when the
// signal has already fired; the caller is expected to check Fired first.
func (s *Signal) Subscribe(fn func()) bool {
	if s.fired {
		return false
	}
	s.listeners = append(s.listeners, fn)
	return true
}

// Fire invokes every registered listener in order. Only the first call has
// any effect.
func (s *Signal) Fire() {
	if s.fired {
		return
	}
	s.fired = true
	listeners := s.listeners
	s.listeners = nil
	for _, fn := range listeners {
		fn()
	}
}

// Fired reports whether Fire has been called.
func (s *Signal) Fired() bool {
	return s.fired
}

// Len returns the number of listeners waiting for Fire.
func (s *Signal) Len() int {
	return len(s.listeners)
}
