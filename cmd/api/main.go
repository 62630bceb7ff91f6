package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lead_waterfall_backend/internal/buyers"
	"lead_waterfall_backend/internal/email"
	apphttp "lead_waterfall_backend/internal/http"
	"lead_waterfall_backend/internal/http/router"
	"lead_waterfall_backend/internal/intake"
	"lead_waterfall_backend/internal/leads/fallback"
	"lead_waterfall_backend/internal/leads/repository"
	"lead_waterfall_backend/internal/notification"
	"lead_waterfall_backend/internal/payments"
	"lead_waterfall_backend/internal/scheduler"
	"lead_waterfall_backend/platform/config"
	"lead_waterfall_backend/platform/db"
	"lead_waterfall_backend/platform/logger"
	"lead_waterfall_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

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
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	// Shared validator instance for dependency injection
	val := validator.New()

	roster, err := buyers.Load(cfg.GetBuyersFile(), val)
	if err != nil {
		log.Error("failed to load buyer roster", "error", err, "file", cfg.GetBuyersFile())
		panic("failed to load buyer roster: " + err.Error())
	}
	log.Info("buyer roster loaded", "buyers", roster.Len())

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	ledger := repository.New(pool)
	queue, closeQueue := initFallbackQueue(ctx, cfg, log)
	defer closeQueue()

	if cfg.GetFallbackReplay() {
		replayer := fallback.NewReplayer(queue, ledger, cfg.GetFallbackReplayInterval(), cfg.GetCallTimeout(), log)
		go replayer.Run(ctx)
		log.Info("fallback replay enabled", "interval", cfg.GetFallbackReplayInterval().String())
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	notifier := notification.New(sender, cfg.GetExclusivityWindow(), log)

	var (
		sessions intake.SessionStore
		delivery payments.SoldLeadDelivery
	)
	if cfg.GetRedisURL() != "" {
		redisClient := initRedis(ctx, cfg, log)
		defer func() { _ = redisClient.Close() }()
		sessions = intake.NewRedisStore(redisClient, cfg.GetSessionTTL())

		taskClient, err := scheduler.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize task client", "error", err)
			panic("failed to initialize task client: " + err.Error())
		}
		defer func() { _ = taskClient.Close() }()
		delivery = taskClient
		log.Info("redis configured; shared sessions and queued delivery enabled")
	} else {
		log.Warn("REDIS_URL not configured; sessions are in-process and sold leads are delivered inline")
		sessions = intake.NewMemoryStore(cfg.GetSessionTTL())
		delivery = payments.NewDirectDelivery(ledger, roster, notifier)
	}

	intakeService := intake.NewService(cfg, sessions, ledger, queue, log)
	handlerOpts := intake.HandlerOptions{
		Language:        cfg.GetVoiceLanguage(),
		PublicBaseURL:   cfg.GetPublicBaseURL(),
		TwilioAuthToken: cfg.GetTwilioAuthToken(),
	}
	if cfg.IsTTSEnabled() {
		handlerOpts.Signer = intake.NewTTSSigner(cfg.GetTTSURLSecret(), cfg.GetPublicBaseURL())
		handlerOpts.TTS = intake.NewElevenLabsClient(cfg)
	} else {
		log.Info("ElevenLabs TTS not configured; prompts use <Say>")
	}
	if cfg.GetTwilioAuthToken() == "" {
		log.Warn("TWILIO_AUTH_TOKEN not configured; voice webhooks are not signature-checked")
	}
	intakeModule := intake.NewModule(intake.NewHandler(intakeService, val, handlerOpts, log))

	settlement := payments.NewSettlement(ledger, roster, delivery, cfg.GetStripeWebhookSecret(), cfg.GetCallTimeout(), log)
	paymentsModule := payments.NewModule(settlement)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: ledger,
		Modules: []apphttp.Module{
			intakeModule,
			paymentsModule,
		},
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initFallbackQueue(ctx context.Context, cfg *config.Config, log *logger.Logger) (fallback.Queue, func()) {
	local, err := fallback.OpenSQLite(cfg.GetFallbackDir())
	if err != nil {
		log.Error("failed to open fallback queue", "error", err, "dir", cfg.GetFallbackDir())
		panic("failed to open fallback queue: " + err.Error())
	}
	closeLocal := func() { _ = local.Close() }

	if !cfg.IsMinIOEnabled() {
		return local, closeLocal
	}

	var archive *fallback.MinIOArchive
	if err := withRetry(ctx, log, "ensure fallback bucket", 5, 2*time.Second, func() error {
		a, err := fallback.NewMinIOArchive(ctx, cfg)
		if err != nil {
			return err
		}
		archive = a
		return nil
	}); err != nil {
		log.Error("fallback archive unavailable; keeping local queue only", "error", err, "bucket", cfg.GetMinIOBucketFallback())
		return local, closeLocal
	}
	log.Info("fallback archive initialized", "bucket", cfg.GetMinIOBucketFallback())
	return fallback.NewArchivedQueue(local, archive, log), closeLocal
}

func initRedis(ctx context.Context, cfg config.SchedulerConfig, log *logger.Logger) *redis.Client {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		panic("invalid REDIS_URL: " + err.Error())
	}
	client := redis.NewClient(opt)
	if err := withRetry(ctx, log, "redis connection", 5, 2*time.Second, func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	return client
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
