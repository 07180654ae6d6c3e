// Package reservoir implements bounded uniform sampling over unbounded
// streams (algorithm R). A reservoir of capacity c holds, after n offers,
// each of the n items seen with probability c/n, using O(c) space and O(1)
// amortized time per offer.
package reservoir

import (
	"math/rand"
	"sync"
)

// Reservoir is a thread-safe fixed-capacity uniform sample of a stream.
// A capacity of 0 makes the reservoir unbounded: every offered item is kept.
// It uses a single mutex for both reads and writes; offers are a small
// fraction of total work, so a separate read path is not worth the
// complexity.
type Reservoir[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	seen     int64

	rng *rand.Rand
}

// Options configures a reservoir.
type Options struct {
	// Capacity is the maximum number of retained items. 0 = unbounded.
	Capacity int

	// Seed seeds the sampling source. Zero means a time-derived seed;
	// tests pass a fixed seed for reproducible samples.
	Seed int64
}

// New creates a reservoir with the given options.
func New[T any](opts Options) *Reservoir[T] {
	src := rand.NewSource(opts.Seed)
	if opts.Seed == 0 {
		src = rand.NewSource(rand.Int63())
	}

	var items []T
	if opts.Capacity > 0 {
		items = make([]T, 0, opts.Capacity)
	}

	return &Reservoir[T]{
		items:    items,
		capacity: opts.Capacity,
		rng:      rand.New(src),
	}
}

// Offer feeds one item to the reservoir. While fewer than capacity items
// have been seen the item is appended, preserving arrival order; afterwards
// it replaces a uniformly chosen slot with probability capacity/seen.
func (r *Reservoir[T]) Offer(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offerLocked(item, false)
}

// OfferKeepLast is Offer with a bias: the most recently offered item is
// always present, occupying the last slot of the sample. The statistical
// guarantee holds for every other slot. Used for series where showing the
// latest value matters more than strict uniformity (live scalar charts).
func (r *Reservoir[T]) OfferKeepLast(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offerLocked(item, true)
}

func (r *Reservoir[T]) offerLocked(item T, keepLast bool) {
	r.seen++

	if r.capacity == 0 || len(r.items) < r.capacity {
		r.items = append(r.items, item)
		return
	}

	j := r.rng.Int63n(r.seen)
	switch {
	case j < int64(r.capacity) && keepLast:
		// Drop the chosen victim and append, so the newest item always ends
		// up in the last slot without being duplicated.
		copy(r.items[j:], r.items[j+1:])
		r.items[len(r.items)-1] = item
	case j < int64(r.capacity):
		r.items[j] = item
	case keepLast:
		r.items[len(r.items)-1] = item
	}
}

// Items returns a snapshot copy of the current sample in arrival order.
// Callers never observe the sample mutating mid-read.
func (r *Reservoir[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Filter removes all sampled items failing keep. The seen count is not
// reset, so the uniformity guarantee afterwards applies only to the
// post-filter population. Used to purge a stale sample when the producer is
// detected to have restarted.
// Returns the number of items removed.
func (r *Reservoir[T]) Filter(keep func(T) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.items[:0]
	for _, item := range r.items {
		if keep(item) {
			kept = append(kept, item)
		}
	}
	removed := len(r.items) - len(kept)

	// Clear the tail for GC.
	var zero T
	for i := len(kept); i < len(r.items); i++ {
		r.items[i] = zero
	}
	r.items = kept

	return removed
}

// Len returns the current sample size.
func (r *Reservoir[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Seen returns the total number of items ever offered.
func (r *Reservoir[T]) Seen() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen
}

// Capacity returns the configured capacity. 0 = unbounded.
func (r *Reservoir[T]) Capacity() int {
	return r.capacity
}
