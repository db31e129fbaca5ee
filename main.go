// Command shoutbox is the chat-channel service layered on the forum content
// store. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Wires the channel registry, message pipeline, pruner, broadcaster, and
//     optional relay together, and starts the background prune sweep.
//   - Exposes the HTTP API with /healthz, /readyz, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/loamlabs/shoutbox/broadcast"
	"github.com/loamlabs/shoutbox/channel"
	"github.com/loamlabs/shoutbox/config"
	"github.com/loamlabs/shoutbox/db"
	"github.com/loamlabs/shoutbox/message"
	"github.com/loamlabs/shoutbox/relay"
	"github.com/loamlabs/shoutbox/server"
	"github.com/loamlabs/shoutbox/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("shoutbox", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.ConnectDSN(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pub/sub transport: redis when configured, otherwise log-only.
	var pub broadcast.Publisher = broadcast.LogPublisher{}
	if cfg.RedisURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		rp, err := broadcast.NewRedisPublisher(connectCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			slog.Error("redis connect failed", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := rp.Close(); err != nil {
				slog.Error("failed to close redis", slog.Any("err", err))
			}
		}()
		pub = rp
		slog.Info("broadcast transport ready", slog.String("transport", "redis"))
	} else {
		slog.Info("REDIS_URL not set; broadcasts are log-only")
	}

	// Core wiring
	bc := broadcast.New(database, pub)
	registry := channel.NewRegistry(database, cfg.BaselineGroup, cfg.RetentionLimit)
	pruner := message.NewPruner(database)
	rc := relay.New(cfg.RelayEnabled, cfg.RelayURL)
	pipeline := message.NewPipeline(database, registry, bc, pruner, rc)
	registry.SetPostRemover(pipeline)

	// Background prune sweep (retention repair for lowered limits)
	go message.StartPruneSweep(ctx, database, message.LoadSweepInterval())

	// HTTP server
	deps := server.Deps{DB: database, Registry: registry, Pipeline: pipeline, Notifier: bc}
	go func() {
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
