// Command server runs the HTTP side of the broker: provider webhooks, the
// recruiter form, the payment landing page and the monitoring endpoints.
// Heavy work never happens here; it is enqueued for the worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/ai"
	"github.com/Ugoplus/smartcvnaija/internal/adapter/httpserver"
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
	"github.com/Ugoplus/smartcvnaija/internal/service/identity"
	"github.com/Ugoplus/smartcvnaija/internal/service/intent"
	"github.com/Ugoplus/smartcvnaija/internal/service/ratelimiter"
	"github.com/Ugoplus/smartcvnaija/internal/service/session"
	"github.com/Ugoplus/smartcvnaija/internal/usecase"
)

// version is stamped at build time.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("tracing setup failed", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL, cfg.DBMaxConns, cfg.DBStatementTimeout)
	if err != nil {
		slog.Error("database connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	gateway := postgres.NewGateway(pool, logger)
	defer gateway.Close()

	if err := postgres.Migrate(ctx, gateway, logger); err != nil {
		slog.Error("migrations failed", slog.Any("error", err))
		os.Exit(1)
	}

	listingRepo := postgres.NewListingRepo(gateway)
	appRepo := postgres.NewApplicationRepo(gateway)
	usageRepo := postgres.NewUsageRepo(gateway)

	rdb := kvredis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisSessionDB)
	kv := kvredis.NewStore(rdb)
	defer func() { _ = kv.Close() }()

	sessions := session.NewManager(kv)
	limits := ratelimiter.New(rdb, nil)

	queue := asynqadp.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisQueueDB)
	defer func() { _ = queue.Close() }()

	catalog := intent.DefaultCatalog()
	aiClient := ai.New(cfg)
	messenger := ycloud.New(cfg)
	payments := paystack.New(cfg)

	mailer := smtpmailer.New(cfg, logger)
	if err := mailer.Verify(ctx); err != nil {
		slog.Error("smtp verify failed", slog.Any("error", err))
		os.Exit(1)
	}

	convo := usecase.NewConversationService(usecase.ConversationService{
		Sessions:   sessions,
		Limits:     limits,
		Intents:    intent.New(aiClient, catalog),
		Letters:    coverletter.New(aiClient, catalog),
		Identities: identity.New(catalog),
		Listings:   listingRepo,
		Apps:       appRepo,
		Usage:      usageRepo,
		Queue:      queue,
		Messenger:  messenger,
		Payments:   payments,
		Cfg:        cfg,
		Log:        logger,
	})

	srv := &httpserver.Server{
		Cfg:       cfg,
		Convo:     convo,
		KV:        kv,
		DB:        gateway,
		Queue:     queue,
		Payments:  payments,
		Mailer:    mailer,
		Listings:  listingRepo,
		Apps:      appRepo,
		Limits:    limits,
		Catalog:   catalog,
		Version:   version,
		StartedAt: time.Now(),
		Log:       logger,
	}

	// The server runs the catalog and retention jobs; the worker owns the
	// upload directory and sweeps it itself.
	maint := &app.Maintenance{
		Listings: listingRepo,
		Apps:     appRepo,
		Usage:    usageRepo,
		Cfg:      cfg,
		Log:      logger,
	}
	if err := maint.Start(); err != nil {
		slog.Error("maintenance schedule failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer maint.Stop()

	handler := app.BuildRouter(cfg, srv)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting",
			slog.Int("port", cfg.Port),
			slog.String("env", cfg.AppEnv),
			slog.String("version", version))
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown incomplete", slog.Any("error", err))
	}
}
