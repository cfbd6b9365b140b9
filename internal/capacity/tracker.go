// Package capacity tracks how many stories are stored against the configured
// ceiling. The count mirrors the number of metadata files on disk: it is seeded
// by a directory scan at startup and maintained incrementally afterwards.
package capacity

import "sync"

// Tracker is a mutex-guarded counter. All methods are safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	count int
}

// New returns a Tracker seeded with n (negative values clamp to zero).
func New(n int) *Tracker {
	t := &Tracker{}
	t.RecomputeFrom(n)
	return t
}

// Current returns the current count.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Increment adds one stored story.
func (t *Tracker) Increment() {
	t.mu.Lock()
	t.count++
	t.mu.Unlock()
}

// Decrement removes one stored story. The count never goes below zero.
func (t *Tracker) Decrement() {
	t.mu.Lock()
	if t.count > 0 {
		t.count--
	}
	t.mu.Unlock()
}

// RecomputeFrom replaces the count wholesale, typically with the result of a
// directory scan or a reconciliation sweep.
func (t *Tracker) RecomputeFrom(n int) {
	if n < 0 {
		n = 0
	}
	t.mu.Lock()
	t.count = n
	t.mu.Unlock()
}

// Admit reports whether one more story fits under ceiling.
func (t *Tracker) Admit(ceiling int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count+1 <= ceiling
}

// Reserve performs Admit and Increment as one step. It returns false, leaving
// the count untouched, when the ceiling is reached. A caller that fails to
// store the story afterwards must Release the slot.
func (t *Tracker) Reserve(ceiling int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count+1 > ceiling {
		return false
	}
	t.count++
	return true
}

// Release returns a slot obtained from Reserve.
func (t *Tracker) Release() { t.Decrement() }
