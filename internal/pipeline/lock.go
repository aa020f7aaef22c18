package pipeline

import (
	"sync"
	"sync/atomic"
)

// categoryLock is a non-blocking lock: a second run of the same category
// fails fast instead of queueing behind the first.
type categoryLock struct {
	state atomic.Int32 // 0 = free, 1 = held
}

func (l *categoryLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

func (l *categoryLock) Release() {
	l.state.Store(0)
}

// lockSet hands out one lock per key.
type lockSet struct {
	mu    sync.Mutex
	locks map[string]*categoryLock
}

func (s *lockSet) get(key string) *categoryLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*categoryLock)
	}
	l, ok := s.locks[key]
	if !ok {
		l = &categoryLock{}
		s.locks[key] = l
	}
	return l
}
