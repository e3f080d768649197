package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"torrentgate/internal/activity"
	apihttp "torrentgate/internal/api/http"
	"torrentgate/internal/app"
	"torrentgate/internal/auth"
	"torrentgate/internal/backend"
	"torrentgate/internal/domain/ports"
	"torrentgate/internal/events"
	"torrentgate/internal/gateway"
	"torrentgate/internal/maintenance"
	"torrentgate/internal/metrics"
	"torrentgate/internal/poller"
	"torrentgate/internal/repository/memory"
	mongorepo "torrentgate/internal/repository/mongo"
	"torrentgate/internal/telemetry"
	"torrentgate/internal/transfer"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "torrent-gateway")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "torrent-gateway"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("pollActive", cfg.PollActiveInterval),
		slog.Duration("pollIdle", cfg.PollIdleInterval),
		slog.Bool("autoPause", cfg.AutoPauseSeeding),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	var (
		store       ports.Store
		mongoClient *mongo.Client
	)
	if cfg.MongoURI == "memory" {
		logger.Warn("using in-memory store, data is not persisted")
		store = memory.NewStore()
	} else {
		mongoClient, err = mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
			logger.Error("mongo ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}

		mongoStore := mongorepo.NewStore(mongoClient, cfg.MongoDatabase)
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
		}
		store = mongoStore
	}

	authMgr := auth.NewManager(store, logger)
	if username := os.Getenv("ADMIN_USERNAME"); username != "" {
		created, err := authMgr.BootstrapAdmin(ctx, username, os.Getenv("ADMIN_PASSWORD"))
		if err != nil {
			logger.Error("admin bootstrap failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if created {
			logger.Info("admin account created", slog.String("username", username))
		}
	}

	factory := backend.NewFactory()
	bus := events.NewBus(logger)
	defer bus.Close()

	webhooks := events.NewWebhookSubscriber(store, logger)
	bus.Subscribe(webhooks)

	gw := gateway.New(store, factory, bus, logger)
	gw.FanoutTimeout = cfg.FanoutTimeout

	recorder := activity.NewRecorder(store, logger)

	transfers := transfer.NewManager(store, factory, recorder, bus, logger, transfer.Config{
		MaxConcurrent:       cfg.TransferMaxConcurrent,
		MaxRetries:          cfg.TransferMaxRetries,
		PublicSeedDuration:  cfg.PublicSeedDuration,
		PrivateSeedDuration: cfg.PrivateSeedDuration,
		MaxStatusGap:        cfg.MaxStatusGap,
	})
	transfers.Start(rootCtx)

	pol := poller.New(store, recorder, factory, bus, logger, poller.Config{
		ActiveInterval:      cfg.PollActiveInterval,
		IdleInterval:        cfg.PollIdleInterval,
		MaxStatusGap:        cfg.MaxStatusGap,
		PublicSeedDuration:  cfg.PublicSeedDuration,
		PrivateSeedDuration: cfg.PrivateSeedDuration,
	})
	pol.Transfers = transfers
	go pol.Run(rootCtx)

	sched := maintenance.New(store, recorder, factory, bus, authMgr, logger, maintenance.Config{
		Interval:            cfg.MaintenanceInterval,
		AutoPauseSeeding:    cfg.AutoPauseSeeding,
		PublicSeedDuration:  cfg.PublicSeedDuration,
		PrivateSeedDuration: cfg.PrivateSeedDuration,
		MaxStatusGap:        cfg.MaxStatusGap,
		StatusRetentionDays: cfg.StatusRetentionDays,
	})
	if err := sched.Start(); err != nil {
		logger.Error("maintenance scheduler start failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	streams := apihttp.NewStreamManager(apihttp.StreamConfig{
		FFmpegPath:  cfg.FFMPEGPath,
		FFprobePath: cfg.FFProbePath,
		ScratchDir:  cfg.StreamScratchDir,
		IdleTimeout: cfg.StreamIdle,
	}, logger)

	handler := apihttp.NewServer(authMgr, gw, store,
		apihttp.WithLogger(logger),
		apihttp.WithPoller(pol),
		apihttp.WithTransfers(transfers),
		apihttp.WithRecorder(recorder),
		apihttp.WithStreams(streams),
		apihttp.WithWebhooks(webhooks),
		apihttp.WithEventBus(bus),
		apihttp.WithCookieSecure(cfg.CookieSecure),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	sched.Stop()
	transfers.Stop()
	handler.Close()
	if mongoClient != nil {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
