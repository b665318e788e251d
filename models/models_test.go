package models

import (
	"strings"
	"testing"
	"time"
)

func TestIdentityMinuteBucket(t *testing.T) {
	base := WhaleEvent{
		Exchange:   "Hyperliquid",
		Address:    "0xabc",
		Symbol:     "BTC",
		Action:     ActionOpenLong,
		Notional:   1500000,
		ExecutedAt: time.Unix(1700000000, 0).UTC(),
	}

	sameMinute := base
	sameMinute.ExecutedAt = base.ExecutedAt.Add(30 * time.Second)
	if base.Identity() != sameMinute.Identity() {
		t.Errorf("fills inside the same minute should collapse: %q vs %q", base.Identity(), sameMinute.Identity())
	}

	nextMinute := base
	nextMinute.ExecutedAt = base.ExecutedAt.Add(90 * time.Second)
	if base.Identity() == nextMinute.Identity() {
		t.Errorf("fills a minute apart should be distinct: %q", base.Identity())
	}
}

func TestIdentityNotionalRounding(t *testing.T) {
	a := WhaleEvent{Symbol: "ETH", Action: ActionCloseShort, Notional: 1000000.3, ExecutedAt: time.Unix(1700000000, 0)}
	b := a
	b.Notional = 1000000.4
	if a.Identity() != b.Identity() {
		t.Errorf("notional should round to the unit: %q vs %q", a.Identity(), b.Identity())
	}
}

func TestCheckpointMinutes(t *testing.T) {
	mins := CheckpointMinutes()

	if mins[0] != 1 {
		t.Errorf("first checkpoint = %d, want 1", mins[0])
	}
	if last := mins[len(mins)-1]; last != 1440 {
		t.Errorf("last checkpoint = %d, want 1440", last)
	}
	for i := 1; i < len(mins); i++ {
		if mins[i] <= mins[i-1] {
			t.Fatalf("schedule not strictly ascending at index %d: %v", i, mins)
		}
	}
}

func TestCheckpointLabel(t *testing.T) {
	cases := map[int]string{
		5:   "%Δ 5m",
		45:  "%Δ 45m",
		60:  "%Δ 1h",
		90:  "%Δ 90m",
		720: "%Δ 12h",
	}
	for minute, want := range cases {
		if got := CheckpointLabel(minute); got != want {
			t.Errorf("CheckpointLabel(%d) = %q, want %q", minute, got, want)
		}
	}
	if !strings.HasPrefix(CheckpointLabel(1440), "%Δ") {
		t.Errorf("unexpected label prefix: %q", CheckpointLabel(1440))
	}
}
