// Package nonce issues client order indices for venue submissions.
package nonce

import (
	"sync"
	"time"
)

// Sequencer hands out strictly increasing client order indices derived from
// wall-clock milliseconds. It never repeats and never goes backwards, even
// when the clock does. Safe for concurrent use.
type Sequencer struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// New returns a Sequencer backed by time.Now.
func New() *Sequencer {
	return NewWithClock(time.Now)
}

// NewWithClock returns a Sequencer that reads time from now.
func NewWithClock(now func() time.Time) *Sequencer {
	return &Sequencer{now: now}
}

// Next returns max(now_ms, last+1) and records it as the last issued value.
func (s *Sequencer) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.now().UnixMilli()
	if next <= s.last {
		next = s.last + 1
	}
	s.last = next
	return next
}

// Last returns the most recently issued index, or 0 if none.
func (s *Sequencer) Last() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
