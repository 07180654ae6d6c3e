package reservoir

import (
	"sync"
	"testing"
)

func TestReservoir_UnderCapacity(t *testing.T) {
	r := New[int](Options{Capacity: 10, Seed: 1})

	for i := 0; i < 7; i++ {
		r.Offer(i)
	}

	items := r.Items()
	if len(items) != 7 {
		t.Fatalf("expected 7 items, got %d", len(items))
	}
	for i, v := range items {
		if v != i {
			t.Errorf("item %d: expected %d, got %d (arrival order must be preserved)", i, i, v)
		}
	}
	if r.Seen() != 7 {
		t.Errorf("expected seen=7, got %d", r.Seen())
	}
}

func TestReservoir_OverCapacity(t *testing.T) {
	r := New[int](Options{Capacity: 10, Seed: 1})

	for i := 0; i < 1000; i++ {
		r.Offer(i)
	}

	if got := r.Len(); got != 10 {
		t.Fatalf("expected sample size 10, got %d", got)
	}
	if r.Seen() != 1000 {
		t.Errorf("expected seen=1000, got %d", r.Seen())
	}

	// Every retained item must be one of the offered items.
	for _, v := range r.Items() {
		if v < 0 || v >= 1000 {
			t.Errorf("sample contains item %d never offered", v)
		}
	}
}

func TestReservoir_Unbounded(t *testing.T) {
	r := New[int](Options{Capacity: 0, Seed: 1})

	for i := 0; i < 5000; i++ {
		r.Offer(i)
	}

	items := r.Items()
	if len(items) != 5000 {
		t.Fatalf("unbounded reservoir dropped items: got %d of 5000", len(items))
	}
	for i, v := range items {
		if v != i {
			t.Fatalf("item %d: expected %d, got %d", i, i, v)
		}
	}
}

// TestReservoir_Uniformity checks that after many offers each item is
// retained with empirical probability close to capacity/n.
func TestReservoir_Uniformity(t *testing.T) {
	const (
		capacity = 50
		n        = 500
		trials   = 2000
	)

	counts := make([]int, n)
	for trial := 0; trial < trials; trial++ {
		r := New[int](Options{Capacity: capacity, Seed: int64(trial + 1)})
		for i := 0; i < n; i++ {
			r.Offer(i)
		}
		for _, v := range r.Items() {
			counts[v]++
		}
	}

	// Expected retention probability is capacity/n = 0.1, so each item
	// should appear in roughly trials/10 = 200 samples. With 2000 trials the
	// standard deviation is ~13.4; a +/-35% band is > 5 sigma.
	expected := float64(trials) * float64(capacity) / float64(n)
	lo, hi := expected*0.65, expected*1.35
	for i, c := range counts {
		if float64(c) < lo || float64(c) > hi {
			t.Errorf("item %d retained %d times, expected within [%.0f, %.0f]", i, c, lo, hi)
		}
	}
}

func TestReservoir_KeepLast(t *testing.T) {
	r := New[int](Options{Capacity: 5, Seed: 42})

	for i := 0; i < 500; i++ {
		r.OfferKeepLast(i)
	}

	items := r.Items()
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	if items[len(items)-1] != 499 {
		t.Errorf("last slot must hold the most recent item 499, got %d", items[len(items)-1])
	}

	// The newest item must never be duplicated into another slot.
	for i := 0; i < len(items)-1; i++ {
		if items[i] == 499 {
			t.Errorf("item 499 duplicated at slot %d", i)
		}
	}
}

func TestReservoir_Filter(t *testing.T) {
	r := New[int](Options{Capacity: 0, Seed: 1})

	for i := 0; i < 100; i++ {
		r.Offer(i)
	}

	removed := r.Filter(func(v int) bool { return v < 50 })
	if removed != 50 {
		t.Errorf("expected 50 removed, got %d", removed)
	}

	items := r.Items()
	if len(items) != 50 {
		t.Fatalf("expected 50 items after filter, got %d", len(items))
	}
	for _, v := range items {
		if v >= 50 {
			t.Errorf("filter kept item %d failing the predicate", v)
		}
	}

	// Filter must not reset the offer count.
	if r.Seen() != 100 {
		t.Errorf("expected seen=100 after filter, got %d", r.Seen())
	}
}

func TestReservoir_ItemsIsSnapshot(t *testing.T) {
	r := New[int](Options{Capacity: 0, Seed: 1})
	r.Offer(1)
	r.Offer(2)

	items := r.Items()
	r.Offer(3)

	if len(items) != 2 {
		t.Errorf("snapshot changed after later offer: len=%d", len(items))
	}
}

func TestReservoir_Concurrent(t *testing.T) {
	r := New[int](Options{Capacity: 100, Seed: 1})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Offer(base + i)
				if i%100 == 0 {
					_ = r.Items()
				}
			}
		}(g * 1000)
	}
	wg.Wait()

	if r.Seen() != 8000 {
		t.Errorf("expected seen=8000, got %d", r.Seen())
	}
	if r.Len() != 100 {
		t.Errorf("expected sample size 100, got %d", r.Len())
	}
}
