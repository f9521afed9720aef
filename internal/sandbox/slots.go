package sandbox

import (
	"context"
	"fmt"
	"sync"
)

// Slots is the process-wide cap on concurrent sandbox containers. The cap is
// resizable at runtime through the administrative surface; shrinking lets
// running tasks finish and only delays new acquisitions.
type Slots struct {
	mu      sync.Mutex
	max     int
	active  int
	waiters []chan struct{}
}

func NewSlots(maxConcurrent int) (*Slots, error) {
	if maxConcurrent < 1 {
		return nil, fmt.Errorf("max concurrent must be at least 1, got %d", maxConcurrent)
	}
	return &Slots{max: maxConcurrent}, nil
}

// Acquire blocks until a slot is free or ctx is done. Waiters are served in
// FIFO order.
func (s *Slots) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.active < s.max {
		s.active++
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{}, 1)
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == ch {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		s.mu.Unlock()
		// The slot was granted concurrently with cancellation; hand it back.
		select {
		case <-ch:
			s.Release()
		default:
		}
		return ctx.Err()
	}
}

// Release frees a slot and wakes the next waiter if the cap allows.
func (s *Slots) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active > 0 {
		s.active--
	}
	s.wakeLocked()
}

// SetMaxConcurrent resizes the cap. Growing wakes queued waiters.
func (s *Slots) SetMaxConcurrent(n int) error {
	if n < 1 {
		return fmt.Errorf("max concurrent must be at least 1, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = n
	s.wakeLocked()
	return nil
}

func (s *Slots) wakeLocked() {
	for s.active < s.max && len(s.waiters) > 0 {
		ch := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.active++
		ch <- struct{}{}
	}
}

// Stats reports the current occupancy for the admin surface.
func (s *Slots) Stats() (active, waiting, max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, len(s.waiters), s.max
}
