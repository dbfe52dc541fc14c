package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.temporal.io/sdk/client"

	"github.com/sigmap/terrascene/internal/adapters/http"
	natsadapter "github.com/sigmap/terrascene/internal/adapters/nats"
	"github.com/sigmap/terrascene/internal/adapters/postgres"
	temporaladapter "github.com/sigmap/terrascene/internal/adapters/temporal"
	"github.com/sigmap/terrascene/internal/adapters/valkey"
	"github.com/sigmap/terrascene/internal/core/ports"
	"github.com/sigmap/terrascene/internal/core/usecases"
	"github.com/sigmap/terrascene/internal/pkg/config"
	"github.com/sigmap/terrascene/internal/pkg/logging"
	"github.com/sigmap/terrascene/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("terrascene-api", nil)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	go db.ReportPoolStats(ctx, 15*time.Second)

	// Cache (readiness only; the DEM cache is used by workers)
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
		cache = nil
	} else {
		defer cache.Close()
	}

	// Raw NATS connection for the WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
		natsConn = nil
	} else {
		defer natsConn.Drain()
	}

	// Temporal schedules submitted runs; without it the API is read-only.
	var scheduler ports.RunScheduler
	var tc client.Client
	if tc, err = temporaladapter.Dial(cfg.Temporal); err != nil {
		slog.Warn("temporal unavailable, scene submission disabled", "error", err)
	} else {
		defer tc.Close()
		scheduler = temporaladapter.NewScheduler(tc, cfg.Temporal.TaskQueue)
	}

	deps := &http.Dependencies{
		Runs:  usecases.NewRunService(postgres.NewRunRepo(db), postgres.NewTransmitterRepo(db), scheduler),
		NATS:  natsConn,
		DB:    db,
		Cache: cache,
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    64 * 1024,
		AppName:      "TerraScene API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
		MaxAge:       3600,
	}))

	http.SetupRoutes(app, deps)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
