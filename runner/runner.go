package runner

import (
	"context"
	"time"

	"github.com/google/uuid"

	appconfig "whalewatch/config"
	"whalewatch/internal/dedup"
	"whalewatch/logger"
	"whalewatch/models"
	"whalewatch/tracker"
)

// Feed produces the qualifying whale events observed since the last poll.
type Feed interface {
	FetchAlerts(ctx context.Context) ([]models.WhaleEvent, error)
}

// Quoter resolves a current spot price for a symbol. The boolean is false when
// every provider in the chain failed.
type Quoter interface {
	PriceNow(ctx context.Context, symbol string) (float64, bool)
}

// Notifier delivers one alert per event. Failures are logged and dropped.
type Notifier interface {
	Notify(ctx context.Context, evt models.WhaleEvent) error
}

// Ledger appends a batch of published events and reports the row index each
// one landed on. An error means the whole batch is unrecorded.
type Ledger interface {
	AppendEvents(ctx context.Context, events []models.PublishedEvent) ([]int, error)
}

// Archiver persists a published batch to cold storage.
type Archiver interface {
	Archive(ctx context.Context, batch []models.PublishedEvent) error
}

// Runner drives the poll loop: fetch, filter, price, notify, record, then
// advance the checkpoint trackers.
type Runner struct {
	config    *appconfig.Config
	feed      Feed
	quotes    Quoter
	notifier  Notifier
	ledger    Ledger
	archiver  Archiver
	scheduler *tracker.Scheduler
	seen      *dedup.Cache
	log       *logger.Log

	now     func() time.Time
	started time.Time
}

func NewRunner(
	cfg *appconfig.Config,
	feed Feed,
	quotes Quoter,
	notifier Notifier,
	ledger Ledger,
	archiver Archiver,
	scheduler *tracker.Scheduler,
) *Runner {
	return &Runner{
		config:    cfg,
		feed:      feed,
		quotes:    quotes,
		notifier:  notifier,
		ledger:    ledger,
		archiver:  archiver,
		scheduler: scheduler,
		seen:      dedup.New(cfg.Dedup.TTL, cfg.Dedup.Capacity),
		log:       logger.GetLogger(),
		now:       time.Now,
		started:   time.Now(),
	}
}

// Run polls until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	log := r.log.WithComponent("runner")

	interval := r.config.Feed.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	log.WithFields(logger.Fields{
		"interval":  interval.String(),
		"watchlist": r.config.Feed.Watchlist,
	}).Info("poll loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("poll loop stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Cycle(ctx)
		}
	}
}

// Cycle runs one poll iteration. Errors are logged, never returned: one bad
// cycle must not take the loop down.
func (r *Runner) Cycle(ctx context.Context) {
	log := r.log.WithComponent("runner")
	now := r.now()

	events, err := r.feed.FetchAlerts(ctx)
	if err != nil {
		log.WithError(err).Error("feed fetch failed")
		r.scheduler.Advance(ctx, now)
		return
	}

	fresh := r.selectFresh(events)
	staged := r.publishAlerts(ctx, fresh)
	r.recordBatch(ctx, staged, now)

	r.scheduler.Advance(ctx, now)
}

// selectFresh drops events that predate startup or were already seen.
// Survivors are marked seen immediately, before delivery: a notification
// failure must not cause a duplicate alert on the next poll.
func (r *Runner) selectFresh(events []models.WhaleEvent) []models.WhaleEvent {
	log := r.log.WithComponent("runner")

	// No backfill: anything executed before startup is history, modulo a lag
	// allowance for feed-side delivery delay.
	cutoff := r.started.Add(-r.config.Feed.AllowedLag)
	fresh := make([]models.WhaleEvent, 0, len(events))
	for _, evt := range events {
		if evt.ExecutedAt.Before(cutoff) {
			log.WithFields(logger.Fields{
				"symbol":   evt.Symbol,
				"executed": evt.ExecutedAt.UTC().Format(time.RFC3339),
			}).Debug("pre-start event skipped")
			continue
		}

		key := evt.Identity()
		if r.seen.Seen(key) {
			continue
		}
		r.seen.Add(key)
		fresh = append(fresh, evt)
	}

	if len(fresh) > 0 {
		log.WithFields(logger.Fields{
			"events": len(events),
			"fresh":  len(fresh),
		}).Info("new whale events")
	}
	return fresh
}

// publishAlerts prices each event, sends its notification and stages it for
// the ledger. A missing price or a failed notification does not keep an event
// out of the ledger.
func (r *Runner) publishAlerts(ctx context.Context, fresh []models.WhaleEvent) []models.PublishedEvent {
	log := r.log.WithComponent("runner")

	staged := make([]models.PublishedEvent, 0, len(fresh))
	for _, evt := range fresh {
		if price, ok := r.quotes.PriceNow(ctx, evt.Symbol); ok {
			p := price
			evt.MarkPrice = &p
		}

		if err := r.notifier.Notify(ctx, evt); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"symbol": evt.Symbol,
			}).Warn("notification failed")
		}

		staged = append(staged, models.PublishedEvent{
			Event: evt,
			UID:   uuid.New().String(),
		})
	}
	return staged
}

// recordBatch appends the staged batch to the ledger and, only when the append
// succeeded, archives it and schedules a drift tracker for every priced event.
// On a failed append no tracker starts: a tracker must never reference a row
// that does not exist.
func (r *Runner) recordBatch(ctx context.Context, staged []models.PublishedEvent, now time.Time) {
	if len(staged) == 0 {
		return
	}
	log := r.log.WithComponent("runner")

	rows, err := r.ledger.AppendEvents(ctx, staged)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"events": len(staged),
		}).Error("ledger append failed, batch dropped")
		return
	}

	if r.archiver != nil {
		if err := r.archiver.Archive(ctx, staged); err != nil {
			log.WithError(err).Warn("archive write failed")
		}
	}

	for i, pe := range staged {
		if pe.Event.MarkPrice == nil {
			log.WithFields(logger.Fields{
				"symbol": pe.Event.Symbol,
				"row":    rows[i],
			}).Warn("no baseline price, drift tracking skipped")
			continue
		}

		if err := r.scheduler.Schedule(pe.UID, pe.Event.Symbol, rows[i], *pe.Event.MarkPrice, now); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"symbol": pe.Event.Symbol,
				"row":    rows[i],
			}).Error("failed to schedule drift tracker")
		}
	}
}
