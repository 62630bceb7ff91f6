package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lead_waterfall_backend/internal/buyers"
	"lead_waterfall_backend/internal/email"
	"lead_waterfall_backend/internal/leads/repository"
	"lead_waterfall_backend/internal/notification"
	"lead_waterfall_backend/internal/payments"
	"lead_waterfall_backend/internal/scheduler"
	"lead_waterfall_backend/internal/waterfall"
	"lead_waterfall_backend/platform/config"
	"lead_waterfall_backend/platform/db"
	"lead_waterfall_backend/platform/logger"
	"lead_waterfall_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadScheduler()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "window", cfg.GetExclusivityWindow().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	val := validator.New()

	roster, err := buyers.Load(cfg.GetBuyersFile(), val)
	if err != nil {
		log.Error("failed to load buyer roster", "error", err, "file", cfg.GetBuyersFile())
		panic("failed to load buyer roster: " + err.Error())
	}
	if roster.Len() == 0 {
		panic("buyer roster is empty")
	}

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	ledger := repository.New(pool)
	notifier := notification.New(sender, cfg.GetExclusivityWindow(), log)
	checkout := payments.NewStripeClient(cfg)
	delivery := payments.NewDirectDelivery(ledger, roster, notifier)

	var (
		deadlines  waterfall.DeadlineScheduler
		taskClient *scheduler.Client
	)
	if cfg.GetRedisURL() != "" {
		taskClient, err = scheduler.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize task client", "error", err)
			panic("failed to initialize task client: " + err.Error())
		}
		defer func() { _ = taskClient.Close() }()
		deadlines = taskClient
	} else {
		log.Warn("REDIS_URL not configured; offer deadlines rely on polling only")
	}

	engine := waterfall.NewEngine(ledger, roster, checkout, notifier, deadlines, delivery, waterfall.ConfigFrom(cfg), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		engine.Run(gctx)
		return nil
	})

	if taskClient != nil {
		worker, err := scheduler.NewWorker(cfg, engine, delivery, log)
		if err != nil {
			log.Error("failed to initialize scheduler worker", "error", err)
			panic("failed to initialize scheduler worker: " + err.Error())
		}
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("scheduler stopped with error", "error", err)
	}
	log.Info("scheduler stopped")
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
