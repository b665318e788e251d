package models

import (
	"fmt"
	"math"
	"time"
)

// Action classifies what the whale did. The feed only produces executed
// opens and closes; anything else fails validation at the normalizer.
type Action string

const (
	ActionOpenLong   Action = "Open Long"
	ActionOpenShort  Action = "Open Short"
	ActionCloseLong  Action = "Close Long"
	ActionCloseShort Action = "Close Short"
)

// WhaleEvent is one qualifying trade observed on the feed. It is immutable
// once MarkPrice has been attached by the poll loop.
type WhaleEvent struct {
	Exchange   string
	Address    string
	Symbol     string
	Action     Action
	Size       float64
	Notional   float64
	EntryPrice float64
	LiqPrice   float64
	MarkPrice  *float64
	ExecutedAt time.Time
	URL        string
}

// PublishedEvent pairs an event with the UID assigned when it was accepted for
// delivery. The UID follows the event into the ledger, the archive and the
// checkpoint trackers so a row can always be traced back to its alert.
type PublishedEvent struct {
	Event WhaleEvent
	UID   string
}

// Identity is the composite key used to recognize the same logical event for
// dedup purposes. The minute bucket makes two fills of the same position more
// than a minute apart distinct even inside the TTL window.
func (e WhaleEvent) Identity() string {
	return fmt.Sprintf("%s|%s|%s|%s|%.0f|%d",
		e.Exchange,
		e.Address,
		e.Symbol,
		e.Action,
		math.Round(e.Notional),
		e.ExecutedAt.Unix()/60,
	)
}
