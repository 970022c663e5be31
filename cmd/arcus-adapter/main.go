package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/lumenlabs/arcus-adapter/internal/api"
	"github.com/lumenlabs/arcus-adapter/internal/arcus"
	"github.com/lumenlabs/arcus-adapter/internal/jobs"
	"github.com/lumenlabs/arcus-adapter/internal/publisher"
	"github.com/lumenlabs/arcus-adapter/internal/rate"
	internalsecrets "github.com/lumenlabs/arcus-adapter/internal/secrets"
	"github.com/lumenlabs/arcus-adapter/internal/store"
	"github.com/lumenlabs/arcus-adapter/pkg/config"
	"github.com/lumenlabs/arcus-adapter/pkg/logger"
	"github.com/lumenlabs/arcus-adapter/pkg/secrets"
	"github.com/lumenlabs/arcus-adapter/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [arcus-adapter]...")
	if cfg.DatabaseURL != "" {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
	}

	// --- Credentials (AWS Secrets Manager or environment) ---
	var provider secrets.Provider
	if cfg.CredentialsSecret != "" {
		var err error
		provider, err = secrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
	}
	credCache := secrets.NewCache[arcus.Credentials](cfg.CacheTTL)
	stopCleaner := make(chan struct{})
	go credCache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	resolver := internalsecrets.NewResolver(logg.Desugar(), provider, credCache)
	creds, err := resolver.Resolve(ctx, cfg.CredentialsSecret, arcus.Credentials{
		Email:    cfg.ArcusEmail,
		Password: cfg.ArcusPassword,
		APIKey:   cfg.ArcusAPIKey,
		KeyID:    cfg.ArcusKeyID,
	})
	if err != nil {
		// The only fatal failure class: missing/invalid credentials must stop
		// the process before any network activity.
		logg.Fatalw("credential configuration invalid", "error", err)
	}

	// --- Store (Redis + optional Postgres) ---
	var st store.Store
	if cfg.RedisAddr != "" {
		st, err = store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.DatabaseURL, store.PGPoolConfig{}, logg.Desugar())
		if err != nil {
			logg.Warnw("store unavailable, continuing without persistence", "error", err)
			st = nil
		}
	}

	// --- NATS publisher ---
	var nc *nats.Conn
	var pub *publisher.Publisher
	nc, err = nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Warnw("NATS unavailable, continuing without event publishing", "error", err)
		nc = nil
	} else {
		pub, err = publisher.New(nc, logg.Desugar(), cfg.ServiceName, cfg.DeviceEventSubject, cfg.LockEventSubject)
		if err != nil {
			logg.Warnw("failed to init publisher", "error", err)
			pub = nil
		}
	}

	// --- Rate limiter ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.RatePerSecond,
		Burst:             cfg.RateBurst,
	})

	// --- Token manager ---
	phoneID := config.GetEnv("ARCUS_PHONE_ID", uuid.NewString())
	var tokenStore arcus.TokenStore
	if st != nil {
		tokenStore = st
	}
	tokenMgr := arcus.NewTokenManager(
		logg.Desugar(),
		creds,
		cfg.ArcusAuthHost,
		cfg.ArcusAPIHost,
		phoneID,
		&http.Client{Timeout: cfg.RequestTimeout},
		tokenStore,
	)
	tokenMgr.TokenLifetime = cfg.TokenLifetime
	tokenMgr.RefreshWindow = cfg.RefreshWindow

	// --- Arcus HTTP client ---
	arcusClient := arcus.NewClient(
		logg.Desugar(),
		rateMgr,
		tokenMgr,
		cfg.ArcusAPIHost,
		cfg.ArcusLockHost,
		phoneID,
		cfg.RequestTimeout,
	)

	// --- Arcus service ---
	var deviceStore arcus.DeviceStore
	if st != nil {
		deviceStore = st
	}
	var eventPub arcus.EventPublisher
	if pub != nil {
		eventPub = pub
	}
	svc := arcus.NewService(logg.Desugar(), arcusClient, deviceStore, eventPub)

	// --- Background snapshot refresher ---
	refresher := jobs.NewSnapshotRefresher(logg.Desugar(), svc, cfg.SnapshotInterval)
	go refresher.Start(ctx)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	handler := api.NewHandler(logg.Desugar(), svc)
	api.RegisterRoutes(app, nc, st, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[arcus-adapter] running",
		"env", cfg.Env,
		"api_host", cfg.ArcusAPIHost,
		"lock_host", cfg.ArcusLockHost,
		"snapshot_interval", cfg.SnapshotInterval,
		"token_state", tokenMgr.State().String(),
	)

	<-ctx.Done()
	logg.Info("shutting down [arcus-adapter]...")

	close(stopCleaner)
	refresher.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	if st != nil {
		if err := st.Close(); err != nil {
			logg.Warnw("store.close_failed", "error", err)
		}
	}
}
