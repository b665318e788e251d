package tracker

import (
	"context"
	"sync"
	"time"

	"whalewatch/logger"
	"whalewatch/models"
)

// dueTolerance absorbs loop-timing jitter: a checkpoint becomes due once the
// elapsed time exceeds its offset minus this slack.
const dueTolerance = time.Second

// PriceSource resolves a live price; absence is a normal outcome that leaves
// the checkpoint pending for the next cycle.
type PriceSource interface {
	PriceNow(ctx context.Context, symbol string) (float64, bool)
}

// CheckpointSink receives computed drift values keyed by the ledger row the
// tracker annotates.
type CheckpointSink interface {
	UpdateCheckpoint(ctx context.Context, row int, minute int, pct float64) error
}

// Scheduler owns the live tracker set. Trackers are created after an event is
// durably published, advanced every cycle, and removed once every checkpoint
// has been written. Each mutation is followed by a full state rewrite.
type Scheduler struct {
	mu       sync.Mutex
	store    *Store
	quotes   PriceSource
	sink     CheckpointSink
	trackers []models.Tracker
	log      *logger.Log
}

func NewScheduler(store *Store, quotes PriceSource, sink CheckpointSink) *Scheduler {
	return &Scheduler{
		store:  store,
		quotes: quotes,
		sink:   sink,
		log:    logger.GetLogger(),
	}
}

// Schedule stages a new tracker with the full checkpoint schedule pending and
// persists the updated set.
func (s *Scheduler) Schedule(uid, symbol string, row int, baseline float64, started time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trackers = append(s.trackers, models.Tracker{
		UID:      uid,
		Row:      row,
		Symbol:   symbol,
		Baseline: baseline,
		Started:  started,
		Pending:  models.CheckpointMinutes(),
	})

	if err := s.store.Save(s.trackers); err != nil {
		return err
	}

	s.log.WithComponent("tracker").WithFields(logger.Fields{
		"uid":    uid,
		"symbol": symbol,
		"row":    row,
		"p0":     baseline,
	}).Info("tracker scheduled")
	return nil
}

// Live returns the number of trackers still holding pending checkpoints.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trackers)
}

// Advance evaluates every live tracker against now. Due checkpoints get a
// price lookup and a ledger write; either failing leaves the offset pending
// for the next cycle, with no retry cap. Trackers whose pending set empties
// are removed, and any change triggers a full state rewrite.
func (s *Scheduler) Advance(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.trackers) == 0 {
		return
	}

	log := s.log.WithComponent("tracker")
	changed := false
	remaining := s.trackers[:0]

	for _, tr := range s.trackers {
		stillPending := make([]int, 0, len(tr.Pending))
		for _, m := range tr.Pending {
			if !due(now, tr.Started, m) {
				stillPending = append(stillPending, m)
				continue
			}

			price, ok := s.quotes.PriceNow(ctx, tr.Symbol)
			if !ok {
				stillPending = append(stillPending, m)
				continue
			}

			pct := (price - tr.Baseline) / tr.Baseline * 100
			if err := s.sink.UpdateCheckpoint(ctx, tr.Row, m, pct); err != nil {
				log.WithFields(logger.Fields{
					"uid":    tr.UID,
					"minute": m,
				}).WithError(err).Warn("checkpoint write failed, will retry")
				stillPending = append(stillPending, m)
				continue
			}

			tr.Done = append(tr.Done, m)
			changed = true
			log.WithFields(logger.Fields{
				"uid":    tr.UID,
				"symbol": tr.Symbol,
				"minute": m,
				"pct":    pct,
			}).Debug("checkpoint written")
		}

		tr.Pending = stillPending
		if len(tr.Pending) == 0 {
			changed = true
			log.WithFields(logger.Fields{"uid": tr.UID, "symbol": tr.Symbol}).Info("tracker complete, removing")
			continue
		}
		remaining = append(remaining, tr)
	}

	s.trackers = remaining
	if changed {
		if err := s.store.Save(s.trackers); err != nil {
			log.WithError(err).Warn("failed to persist tracker state")
		}
	}
}

// due reports whether checkpoint minute m has come up for a tracker started
// at t0. The comparison is strict so an offset does not fire exactly at the
// tolerance boundary.
func due(now, t0 time.Time, m int) bool {
	return now.Sub(t0) > time.Duration(m)*time.Minute-dueTolerance
}
