package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"
)

type stubQuotes struct {
	price float64
	ok    bool
}

func (s *stubQuotes) PriceNow(ctx context.Context, symbol string) (float64, bool) {
	return s.price, s.ok
}

type recordingSink struct {
	writes []sinkWrite
	err    error
}

type sinkWrite struct {
	row    int
	minute int
	pct    float64
}

func (r *recordingSink) UpdateCheckpoint(ctx context.Context, row, minute int, pct float64) error {
	if r.err != nil {
		return r.err
	}
	r.writes = append(r.writes, sinkWrite{row: row, minute: minute, pct: pct})
	return nil
}

func newTestScheduler(t *testing.T, quotes *stubQuotes, sink *recordingSink) *Scheduler {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))
	return NewScheduler(store, quotes, sink)
}

func TestAdvanceTolerance(t *testing.T) {
	quotes := &stubQuotes{price: 100, ok: true}
	sink := &recordingSink{}
	s := newTestScheduler(t, quotes, sink)

	t0 := time.Unix(1700000000, 0).UTC()
	if err := s.Schedule("uid1", "BTC", 2, 100, t0); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	// 119s past baseline: checkpoint 1 (due at 60s) fires, checkpoint 2
	// (due at 120s minus 1s tolerance) does not.
	s.Advance(context.Background(), t0.Add(119*time.Second))
	if len(sink.writes) != 1 || sink.writes[0].minute != 1 {
		t.Fatalf("writes after 119s = %+v, want only minute 1", sink.writes)
	}

	s.Advance(context.Background(), t0.Add(121*time.Second))
	if len(sink.writes) != 2 || sink.writes[1].minute != 2 {
		t.Fatalf("writes after 121s = %+v, want minutes 1 and 2", sink.writes)
	}
}

func TestDriftComputation(t *testing.T) {
	t0 := time.Unix(1700000000, 0).UTC()

	cases := []struct {
		price float64
		want  float64
	}{
		{price: 105, want: 5.0},
		{price: 95, want: -5.0},
	}

	for i, tc := range cases {
		quotes := &stubQuotes{price: tc.price, ok: true}
		sink := &recordingSink{}
		s := newTestScheduler(t, quotes, sink)

		if err := s.Schedule(fmt.Sprintf("uid%d", i), "ETH", 3, 100, t0); err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
		s.Advance(context.Background(), t0.Add(61*time.Second))

		if len(sink.writes) != 1 {
			t.Fatalf("expected one write, got %+v", sink.writes)
		}
		if got := sink.writes[0].pct; math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("drift for price %v = %v, want %v", tc.price, got, tc.want)
		}
	}
}

func TestUnavailablePriceLeavesPending(t *testing.T) {
	quotes := &stubQuotes{ok: false}
	sink := &recordingSink{}
	s := newTestScheduler(t, quotes, sink)

	t0 := time.Unix(1700000000, 0).UTC()
	if err := s.Schedule("uid1", "BTC", 2, 100, t0); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	s.Advance(context.Background(), t0.Add(2*time.Minute))
	if len(sink.writes) != 0 {
		t.Fatalf("no writes expected without a price, got %+v", sink.writes)
	}
	if s.Live() != 1 {
		t.Fatal("tracker should remain live with pending work")
	}

	// Quote recovers: the stalled checkpoints fire on the next cycle.
	quotes.price, quotes.ok = 110, true
	s.Advance(context.Background(), t0.Add(2*time.Minute))
	if len(sink.writes) != 2 {
		t.Fatalf("expected minutes 1 and 2 to fire after recovery, got %+v", sink.writes)
	}
}

func TestWriteFailureLeavesPending(t *testing.T) {
	quotes := &stubQuotes{price: 100, ok: true}
	sink := &recordingSink{err: errors.New("quota")}
	s := newTestScheduler(t, quotes, sink)

	t0 := time.Unix(1700000000, 0).UTC()
	if err := s.Schedule("uid1", "BTC", 2, 100, t0); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	s.Advance(context.Background(), t0.Add(90*time.Second))
	if s.Live() != 1 {
		t.Fatal("tracker should survive a failed write")
	}

	sink.err = nil
	s.Advance(context.Background(), t0.Add(91*time.Second))
	if len(sink.writes) != 1 || sink.writes[0].minute != 1 {
		t.Fatalf("retried write missing: %+v", sink.writes)
	}
}

func TestTerminalTrackerRemoved(t *testing.T) {
	quotes := &stubQuotes{price: 120, ok: true}
	sink := &recordingSink{}
	s := newTestScheduler(t, quotes, sink)

	t0 := time.Unix(1700000000, 0).UTC()
	if err := s.Schedule("uid1", "BTC", 2, 100, t0); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	// Far beyond the last checkpoint: every offset fires in one pass.
	s.Advance(context.Background(), t0.Add(25*time.Hour))

	if s.Live() != 0 {
		t.Fatalf("completed tracker should be removed, live = %d", s.Live())
	}

	loaded, err := s.store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("persisted state should be empty, got %d", len(loaded))
	}
}

func TestPendingPlusDoneNeverGrows(t *testing.T) {
	quotes := &stubQuotes{price: 100, ok: true}
	sink := &recordingSink{}
	s := newTestScheduler(t, quotes, sink)

	t0 := time.Unix(1700000000, 0).UTC()
	if err := s.Schedule("uid1", "BTC", 2, 100, t0); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	total := len(s.trackers[0].Pending) + len(s.trackers[0].Done)

	s.Advance(context.Background(), t0.Add(10*time.Minute))
	if got := len(s.trackers[0].Pending) + len(s.trackers[0].Done); got != total {
		t.Errorf("pending+done changed from %d to %d", total, got)
	}

	seen := map[int]bool{}
	for _, m := range append(append([]int{}, s.trackers[0].Pending...), s.trackers[0].Done...) {
		if seen[m] {
			t.Fatalf("duplicate offset %d across pending and done", m)
		}
		seen[m] = true
	}
}
