package dedup

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock lets tests advance time manually.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(ttl time.Duration, capacity int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	c := New(ttl, capacity)
	c.now = clock.now
	return c, clock
}

func TestSeenWithinTTL(t *testing.T) {
	c, clock := newTestCache(3*time.Hour, 100)

	c.Add("k1")
	if !c.Seen("k1") {
		t.Fatal("key should be seen immediately after Add")
	}

	clock.advance(time.Hour)
	if !c.Seen("k1") {
		t.Fatal("key should still be seen inside the TTL window")
	}
}

func TestExpiryAfterTTL(t *testing.T) {
	c, clock := newTestCache(10*time.Minute, 100)

	c.Add("k1")
	clock.advance(10*time.Minute + time.Second)

	if c.Seen("k1") {
		t.Fatal("key should age out after TTL")
	}
	if got := c.Len(); got != 0 {
		t.Errorf("expired entry not evicted, len = %d", got)
	}
}

func TestCapacityBound(t *testing.T) {
	c, _ := newTestCache(time.Hour, 5)

	for i := 0; i < 20; i++ {
		c.Add(fmt.Sprintf("k%d", i))
	}

	if got := c.Len(); got > 5 {
		t.Fatalf("cache grew beyond capacity: %d", got)
	}
	if c.Seen("k0") {
		t.Error("oldest entry should have been evicted first")
	}
	if !c.Seen("k19") {
		t.Error("newest entry should survive")
	}
}

func TestNonPositiveCapacityClamped(t *testing.T) {
	for _, capacity := range []int{0, -3} {
		c, _ := newTestCache(time.Hour, capacity)

		c.Add("k1")
		c.Add("k2")

		if got := c.Len(); got != 1 {
			t.Errorf("capacity %d: expected 1 entry, got %d", capacity, got)
		}
		if !c.Seen("k2") {
			t.Errorf("capacity %d: newest entry should survive", capacity)
		}
	}
}

func TestReAddRefreshesTimestamp(t *testing.T) {
	c, clock := newTestCache(10*time.Minute, 2)

	c.Add("k1")
	clock.advance(5 * time.Minute)
	c.Add("k1")
	c.Add("k2") // evicts the first sighting of k1 at capacity

	if !c.Seen("k1") {
		t.Fatal("re-added key should remain seen after its older sighting is evicted")
	}

	clock.advance(11 * time.Minute)
	if c.Seen("k1") {
		t.Fatal("key should expire relative to its most recent sighting")
	}
}
