package page

import "sync"

// Listeners holds callbacks in registration order. The zero value is ready
// to use.
type Listeners[F any] struct {
	mu      sync.Mutex
	seq     int
	entries []listener[F]
}

type listener[F any] struct {
	id int
	fn F
}

// Add registers fn and returns the function that removes it
func (l *Listeners[F]) Add(fn F) func() {
	l.mu.Lock()
	l.seq++
	id := l.seq
	l.entries = append(l.entries, listener[F]{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns the listeners to invoke without holding the lock, so a
// listener may register or cancel others
func (l *Listeners[F]) Snapshot() []F {
	l.mu.Lock()
	defer l.mu.Unlock()
	fns := make([]F, 0, len(l.entries))
	for _, e := range l.entries {
		fns = append(fns, e.fn)
	}
	return fns
}

// Len returns the number of registered listeners
func (l *Listeners[F]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
