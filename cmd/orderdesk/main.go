package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/orderdesk/orderdesk/internal/app"
	"github.com/orderdesk/orderdesk/internal/auth"
	"github.com/orderdesk/orderdesk/internal/company"
	"github.com/orderdesk/orderdesk/internal/freeagent"
	"github.com/orderdesk/orderdesk/internal/integration"
	"github.com/orderdesk/orderdesk/internal/mailer"
	"github.com/orderdesk/orderdesk/internal/platform/cache"
	"github.com/orderdesk/orderdesk/internal/platform/db"
	"github.com/orderdesk/orderdesk/internal/purchase"
	"github.com/orderdesk/orderdesk/internal/shared"
	"github.com/orderdesk/orderdesk/internal/storage"
	"github.com/orderdesk/orderdesk/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		_ = redisClient.Close()
	}()

	objectStore, err := storage.NewS3Store(ctx, storage.Config{
		Endpoint:  cfg.StorageEndpoint,
		Region:    cfg.StorageRegion,
		Bucket:    cfg.StorageBucket,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
	})
	if err != nil {
		logger.Error("init object storage", slog.Any("error", err))
		os.Exit(1)
	}

	sessions := shared.NewSessionManager(redisClient, "orderdesk_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrf := shared.NewCSRFManager(cfg.CSRFSecret)
	audit := shared.NewAuditLogger(pool)

	mailClient := mailer.NewClient(cfg.MailBaseURL, cfg.MailAPIKey, cfg.MailFrom)

	faClient := freeagent.NewClient(cfg.FreeAgentBaseURL, cfg.FreeAgentClientID, cfg.FreeAgentClientSecret, cfg.FreeAgentRedirectURL)
	credStore := freeagent.NewCredentialStore(pool)
	tokenSource := freeagent.NewTokenSource(faClient, credStore)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		_ = jobClient.Close()
	}()

	orderRepo := purchase.NewPGRepository(pool)
	orderService := purchase.NewService(purchase.ServiceConfig{
		Repo:       orderRepo,
		Store:      objectStore,
		Mail:       mailClient,
		Notifier:   jobClient,
		Audit:      audit,
		Logger:     logger,
		AppBaseURL: cfg.AppBaseURL,
	})

	integrationService := integration.NewService(integration.ServiceConfig{
		Repo:   integration.NewPGRepository(pool),
		Orders: orderRepo,
		API:    faClient,
		Tokens: tokenSource,
		Cache:  redisClient,
		Audit:  audit,
		Logger: logger,
	})

	companyService := company.NewService(company.ServiceConfig{
		Repo:   company.NewPGRepository(pool),
		OAuth:  faClient,
		Creds:  credStore,
		Mirror: integrationService,
		Store:  objectStore,
		Logger: logger,
	})

	authService := auth.NewService(auth.NewRepository(pool))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		_ = inspector.Close()
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessions,
		CSRFManager:    csrf,
		AuthHandler:    auth.NewHandler(logger, authService, sessions, csrf),
		CompanyHandler: company.NewHandler(companyService, logger),
		OrderHandler:   purchase.NewHandler(orderService, integrationService, logger),
		PortalHandler:  purchase.NewPortalHandler(orderService, logger),
		JobHandler:     jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
