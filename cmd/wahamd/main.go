package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/config"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/extract"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/ingest"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/logging"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/publish"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/services"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/snapshot"
)

// drainInterval is how often the publisher outbox is pushed between crawls.
const drainInterval = 15 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		logger.Error("acquire instance lock", logging.Error(err))
		os.Exit(1)
	}
	if !locked {
		logger.Error("another wahamd instance holds the lock", logging.String("path", cfg.LockPath()))
		os.Exit(1)
	}
	defer lock.Unlock() //nolint:errcheck

	store, err := catalog.Open(cfg)
	if err != nil {
		logger.Error("open catalog store", logging.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	transport, err := publish.NewRedisTransport(ctx, publish.RedisOptions{
		Addr:      cfg.Publisher.RedisAddr,
		Password:  cfg.Publisher.RedisPassword,
		DB:        cfg.Publisher.RedisDB,
		AckPrefix: cfg.Publisher.ChannelPrefix + ":ack",
		Timeout:   time.Duration(cfg.Publisher.RequestTimeout) * time.Second,
	})
	if err != nil {
		logger.Error("connect publisher transport", logging.Error(err))
		os.Exit(1)
	}
	defer transport.Close()

	policy := publish.DefaultRetryPolicy(
		time.Duration(cfg.Publisher.InitialBackoff)*time.Second,
		time.Duration(cfg.Publisher.MaxBackoff)*time.Second,
	)
	bridge := publish.NewBridge(store, transport, policy, cfg.Publisher.MaxRetries, logger)

	// Crawls consume the payload the export job drops into the data
	// directory.
	payloadPath := filepath.Join(cfg.Paths.DataDir, "payload.json")
	runner := ingest.NewRunner(cfg, store, &extract.FileExtractor{Path: payloadPath}, bridge, logger)

	scheduler := ingest.NewScheduler(logger)
	if err := scheduler.Add(cfg.Scraper.Schedule, func() {
		runCrawl(ctx, runner, payloadPath, logger)
	}); err != nil {
		logger.Error("register crawl schedule", logging.Error(err))
		os.Exit(1)
	}
	scheduler.Start()

	if next, ok := scheduler.NextRun(); ok {
		logger.Info("wahamd started",
			logging.String("schedule", cfg.Scraper.Schedule),
			logging.String("next_crawl", next.Format(time.RFC3339)),
		)
	}

	drainLoop(ctx, bridge, logger)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	scheduler.Stop(stopCtx)
	logger.Info("wahamd shutting down")
}

func runCrawl(ctx context.Context, runner *ingest.Runner, payloadPath string, logger *slog.Logger) {
	if _, err := os.Stat(payloadPath); err != nil {
		logger.Warn("no payload available; crawl skipped", logging.String("path", payloadPath))
		return
	}
	result, err := runner.Run(ctx, extract.Scope{})
	if errors.Is(err, snapshot.ErrPromotionConflict) {
		logger.Warn("crawl lost a promotion race; will retry next cycle")
		return
	}
	if err != nil {
		if services.Fatal(err) {
			logger.Error("scheduled crawl hit a non-retryable error; check configuration", logging.Error(err))
		} else {
			logger.Error("scheduled crawl failed", logging.Error(err))
		}
		return
	}
	if result.Promoted {
		logger.Info("scheduled crawl promoted snapshot",
			logging.Int64("snapshot_id", *result.SnapshotID),
			logging.Int("change_records", result.Changes),
		)
	}
}

// drainLoop pushes the outbox until the context is cancelled.
func drainLoop(ctx context.Context, bridge *publish.Bridge, logger *slog.Logger) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := bridge.ProcessDue(ctx, 200); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("outbox delivery cycle failed", logging.Error(err))
			}
		}
	}
}
