package pipeline

import "context"

// semaphore caps how many extraction chains run at once. A limit of zero
// or less means unlimited.
type semaphore struct {
	slots chan struct{}
}

func newSemaphore(limit int) *semaphore {
	s := &semaphore{}
	if limit > 0 {
		s.slots = make(chan struct{}, limit)
	}
	return s
}

// Acquire blocks until a slot frees up or the context ends.
func (s *semaphore) Acquire(ctx context.Context) error {
	if s.slots == nil {
		return nil
	}
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) Release() {
	if s.slots == nil {
		return
	}
	<-s.slots
}
