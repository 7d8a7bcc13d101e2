// Package history keeps a bounded, throttled series of funding-rate samples
// for charting.
package history

import (
	"sync"
	"time"
)

type Sample struct {
	Time  time.Time `json:"time"`
	RateA float64   `json:"rate_a"`
	RateB float64   `json:"rate_b"`
}

// Ring is safe for concurrent use. Appends closer than minInterval to the
// last accepted sample are dropped; once full, the oldest sample is
// overwritten.
type Ring struct {
	mu          sync.Mutex
	buf         []Sample
	start       int
	count       int
	minInterval time.Duration
	last        time.Time
}

func New(capacity int, minInterval time.Duration) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]Sample, capacity), minInterval: minInterval}
}

// Append reports whether the sample was stored.
func (r *Ring) Append(s Sample) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count > 0 && s.Time.Sub(r.last) < r.minInterval {
		return false
	}
	idx := (r.start + r.count) % len(r.buf)
	if r.count == len(r.buf) {
		r.start = (r.start + 1) % len(r.buf)
	} else {
		r.count++
	}
	r.buf[idx] = s
	r.last = s.Time
	return true
}

// Samples returns a copy, oldest first.
func (r *Ring) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Ring) Cap() int {
	return len(r.buf)
}

func (r *Ring) Latest() (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return Sample{}, false
	}
	return r.buf[(r.start+r.count-1)%len(r.buf)], true
}

func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.count = 0
	r.last = time.Time{}
}
