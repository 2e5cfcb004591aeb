package hwbuffer

import (
	"sync"
)

// Slot hands the latest buffer from a producer goroutine to the render
// thread. Only the newest buffer is kept: publishing over an unconsumed
// buffer releases the older one back to its producer.
type Slot struct {
	mu      sync.Mutex
	pending Buffer
	dropped int
	closed  bool
}

// Publish stores buf as the latest buffer. Ownership moves to the slot.
// A closed slot releases buf at once.
func (s *Slot) Publish(buf Buffer) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		buf.Release()
		return
	}
	old := s.pending
	s.pending = buf
	if old != nil {
		s.dropped++
	}
	s.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

// Take removes and returns the latest buffer, or nil. Ownership moves to
// the caller.
func (s *Slot) Take() Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.pending
	s.pending = nil
	return buf
}

// Dropped counts buffers replaced before the render thread took them.
func (s *Slot) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close releases any unconsumed buffer and every buffer published later.
func (s *Slot) Close() {
	s.mu.Lock()
	buf := s.pending
	s.pending = nil
	s.closed = true
	s.mu.Unlock()

	if buf != nil {
		buf.Release()
	}
}
