// Command worker drains the task queues: CV processing, application
// fan-out and deferred AI work. It owns the upload directory and refuses
// new documents under memory pressure instead of meeting the OOM killer.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/ai"
	kvredis "github.com/Ugoplus/smartcvnaija/internal/adapter/kv/redis"
	smtpmailer "github.com/Ugoplus/smartcvnaija/internal/adapter/mailer/smtp"
	"github.com/Ugoplus/smartcvnaija/internal/adapter/messaging/ycloud"
	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/adapter/payments/paystack"
	asynqadp "github.com/Ugoplus/smartcvnaija/internal/adapter/queue/asynq"
	"github.com/Ugoplus/smartcvnaija/internal/adapter/repo/postgres"
	"github.com/Ugoplus/smartcvnaija/internal/app"
	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/service/coverletter"
	"github.com/Ugoplus/smartcvnaija/internal/service/extraction"
	"github.com/Ugoplus/smartcvnaija/internal/service/identity"
	"github.com/Ugoplus/smartcvnaija/internal/service/intent"
	"github.com/Ugoplus/smartcvnaija/internal/service/memguard"
	"github.com/Ugoplus/smartcvnaija/internal/service/ratelimiter"
	"github.com/Ugoplus/smartcvnaija/internal/service/scoring"
	"github.com/Ugoplus/smartcvnaija/internal/service/session"
	"github.com/Ugoplus/smartcvnaija/internal/service/uploads"
	"github.com/Ugoplus/smartcvnaija/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	// Dedicated exposition endpoint so Prometheus scrapes queue and pipeline
	// metrics from the worker directly.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("tracing setup failed", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("worker starting", slog.String("env", cfg.AppEnv))

	ctx, stopSampler := context.WithCancel(context.Background())
	defer stopSampler()

	pool, err := postgres.NewPool(ctx, cfg.DBURL, cfg.DBMaxConns, cfg.DBStatementTimeout)
	if err != nil {
		slog.Error("database connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	gateway := postgres.NewGateway(pool, logger)
	defer gateway.Close()

	listingRepo := postgres.NewListingRepo(gateway)
	appRepo := postgres.NewApplicationRepo(gateway)
	usageRepo := postgres.NewUsageRepo(gateway)

	rdb := kvredis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisSessionDB)
	kv := kvredis.NewStore(rdb)
	defer func() { _ = kv.Close() }()

	// progress mirrors live beside the queues, not the sessions
	qrdb := kvredis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisQueueDB)
	defer func() { _ = qrdb.Close() }()
	progress := asynqadp.NewProgressStore(qrdb)

	sessions := session.NewManager(kv)
	limits := ratelimiter.New(rdb, nil)

	queue := asynqadp.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisQueueDB)
	defer func() { _ = queue.Close() }()

	uploadStore, err := uploads.New(cfg.UploadDir, logger)
	if err != nil {
		slog.Error("upload dir unusable", slog.Any("error", err))
		os.Exit(1)
	}

	catalog := intent.DefaultCatalog()
	aiClient := ai.New(cfg)
	messenger := ycloud.New(cfg)
	payments := paystack.New(cfg)

	mailer := smtpmailer.New(cfg, logger)
	if err := mailer.Verify(ctx); err != nil {
		slog.Error("smtp verify failed", slog.Any("error", err))
		os.Exit(1)
	}

	extractor := extraction.New(cfg.MaxCVBytes())
	identities := identity.New(catalog)
	letters := coverletter.New(aiClient, catalog)
	scores := scoring.New(aiClient, catalog)

	guard := memguard.New(cfg.MemLimitBytes, asynqadp.CVConcurrency())
	guard.Start(ctx)

	cvSvc := usecase.NewCVService(usecase.CVService{
		Sessions:   sessions,
		Extractor:  extractor,
		Identities: identities,
		Uploads:    uploadStore,
		Usage:      usageRepo,
		Messenger:  messenger,
		Mailer:     mailer,
		Cfg:        cfg,
		Log:        logger,
	})
	appSvc := usecase.NewApplicationService(usecase.ApplicationService{
		Sessions:   sessions,
		Extractor:  extractor,
		Identities: identities,
		Letters:    letters,
		Scores:     scores,
		Uploads:    uploadStore,
		Listings:   listingRepo,
		Apps:       appRepo,
		Messenger:  messenger,
		Mailer:     mailer,
		Cfg:        cfg,
		Log:        logger,
	})
	convo := usecase.NewConversationService(usecase.ConversationService{
		Sessions:   sessions,
		Limits:     limits,
		Intents:    intent.New(aiClient, catalog),
		Letters:    letters,
		Identities: identities,
		Listings:   listingRepo,
		Apps:       appRepo,
		Usage:      usageRepo,
		Queue:      queue,
		Messenger:  messenger,
		Payments:   payments,
		Cfg:        cfg,
		Log:        logger,
	})

	handlers := asynqadp.NewHandlers(asynqadp.HandlerDeps{
		CV:       cvSvc,
		Apps:     appSvc,
		Letters:  convo,
		Guard:    guard,
		Progress: progress,
		Log:      logger,
	})

	worker := asynqadp.NewWorker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisQueueDB, handlers)
	if err := worker.Start(); err != nil {
		slog.Error("worker start failed", slog.Any("error", err))
		os.Exit(1)
	}

	// The worker owns the upload directory, so the orphan sweep runs here.
	maint := &app.Maintenance{
		Uploads:  uploadStore,
		Sessions: sessions,
		Cfg:      cfg,
		Log:      logger,
	}
	if err := maint.Start(); err != nil {
		slog.Error("maintenance schedule failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("worker ready",
		slog.Uint64("mem_limit_mb", cfg.MemLimitBytes>>20),
		slog.Int("cv_slots", asynqadp.CVConcurrency()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("shutdown signal received", slog.String("signal", sig.String()))

	// in-flight tasks drain before the stores close underneath them
	worker.Stop()
	maint.Stop()
	slog.Info("worker stopped")
}
