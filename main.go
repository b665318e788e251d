package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appconfig "whalewatch/config"
	"whalewatch/logger"
	"whalewatch/models"
	"whalewatch/quote"
	"whalewatch/reader/coinglass"
	"whalewatch/runner"
	"whalewatch/tracker"
	"whalewatch/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	once := flag.Bool("once", false, "Run a single poll cycle and exit")
	flag.Parse()

	cfg, err := appconfig.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Whalewatch.Name,
		"version": cfg.Whalewatch.Version,
	}).Info("starting whalewatch")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.InitCloudWatch(cfg.Storage.S3.Region, "WhaleWatch", cfg.Logging.DashboardName)
		logger.StartReport(ctx, log, 30*time.Second)
	}

	feedClient := coinglass.NewClient(cfg)
	feed := coinglass.NewWhaleReader(cfg, feedClient)

	quotes := quote.NewChain(cfg, quoteSources(cfg)...)

	var notifier runner.Notifier = nopNotifier{}
	if cfg.Telegram.Enabled {
		notifier = writer.NewTelegramWriter(cfg)
	} else {
		log.WithComponent("main").Info("telegram disabled; alerts will not be sent")
	}

	ledger := writer.NewSheetsWriter(cfg)
	if err := ledger.Init(ctx); err != nil {
		log.WithError(err).Error("failed to initialize ledger")
		os.Exit(1)
	}

	var archiver runner.Archiver
	if cfg.Storage.S3.Enabled {
		aw, err := writer.NewArchiveWriter(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
		archiver = aw
	} else {
		log.WithComponent("main").Info("S3 archive disabled")
	}

	store := tracker.NewStore(cfg.Tracker.StateFile)
	// Tracker state does not survive restarts. Rows written by a previous run
	// keep whatever drift columns were already filled.
	if err := store.Reset(); err != nil {
		log.WithError(err).Error("failed to reset tracker state")
		os.Exit(1)
	}
	scheduler := tracker.NewScheduler(store, quotes, ledger)

	r := runner.NewRunner(cfg, feed, quotes, notifier, ledger, archiver, scheduler)

	if *once {
		r.Cycle(ctx)
		log.Info("single cycle complete")
		return
	}

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("poll loop terminated")
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// quoteSources builds the fallback chain in configured order.
func quoteSources(cfg *appconfig.Config) []quote.Source {
	log := logger.GetLogger().WithComponent("main")

	timeout := cfg.Quote.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sources := make([]quote.Source, 0, len(cfg.Quote.Providers))
	for _, name := range cfg.Quote.Providers {
		switch strings.ToLower(name) {
		case "binance":
			sources = append(sources, quote.NewBinance(timeout))
		case "coinbase":
			sources = append(sources, quote.NewCoinbase(timeout))
		case "kucoin":
			sources = append(sources, quote.NewKucoin(timeout))
		case "bybit":
			sources = append(sources, quote.NewBybit(timeout))
		default:
			log.WithFields(logger.Fields{"provider": name}).Warn("unknown quote provider skipped")
		}
	}
	return sources
}

type nopNotifier struct{}

func (nopNotifier) Notify(ctx context.Context, evt models.WhaleEvent) error { return nil }
