// Package cache holds the single most recent payload of an endpoint. A slot
// is not keyed by request parameters: every caller of an endpoint shares
// it, whatever they asked for.
package cache

import (
	"sync"
	"time"
)

// Slot is a one-entry TTL cache, safe for concurrent use.
type Slot[T any] struct {
	ttl time.Duration
	now func() time.Time

	mu         sync.RWMutex
	value      T
	capturedAt time.Time
	set        bool
}

// Option configures a Slot.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates an empty slot whose entries stay fresh for ttl.
func New[T any](ttl time.Duration, opts ...Option) *Slot[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Slot[T]{ttl: ttl, now: o.now}
}

// TTL reports the freshness window.
func (s *Slot[T]) TTL() time.Duration { return s.ttl }

// Fresh returns the stored value if it is younger than the TTL.
func (s *Slot[T]) Fresh() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set || s.now().Sub(s.capturedAt) >= s.ttl {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Last returns the stored value regardless of age.
func (s *Slot[T]) Last() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.set
}

// Store replaces the value and stamps it with the current time.
func (s *Slot[T]) Store(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.capturedAt = s.now()
	s.set = true
}
