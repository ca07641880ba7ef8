// Package clock abstracts wall-clock reads so time-dependent logic can be
// driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// New returns a Clock backed by time.Now.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

// Fake is a manually advanced Clock.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock positioned at now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set positions the clock at t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
