package models

import (
	"fmt"
	"time"
)

// Tracker is the live scheduling record for one published event: the baseline
// price/time captured at publication and the checkpoint offsets still to be
// evaluated. Pending and Done together never grow after creation.
type Tracker struct {
	UID      string    `json:"uid"`
	Row      int       `json:"row"`
	Symbol   string    `json:"symbol"`
	Baseline float64   `json:"p0"`
	Started  time.Time `json:"t0"`
	Pending  []int     `json:"due"`
	Done     []int     `json:"done"`
}

// CheckpointMinutes is the fixed drift-sampling schedule: dense in the first
// half hour, sparser out to the 24-hour horizon.
func CheckpointMinutes() []int {
	mins := []int{1, 2, 3, 4, 5}
	for m := 10; m <= 30; m += 5 {
		mins = append(mins, m)
	}
	for m := 45; m <= 180; m += 15 {
		mins = append(mins, m)
	}
	for m := 210; m <= 720; m += 30 {
		mins = append(mins, m)
	}
	for m := 780; m <= 1440; m += 60 {
		mins = append(mins, m)
	}
	return mins
}

// CheckpointLabel renders a schedule offset for ledger headers, in hours once
// the offset is a whole number of them.
func CheckpointLabel(minute int) string {
	if minute >= 60 && minute%60 == 0 {
		return fmt.Sprintf("%%Δ %dh", minute/60)
	}
	return fmt.Sprintf("%%Δ %dm", minute)
}
