package main

import (
	"context"
	"log"
	"log/slog"
	"time"

	"go.temporal.io/sdk/worker"

	natsadapter "github.com/sigmap/terrascene/internal/adapters/nats"
	"github.com/sigmap/terrascene/internal/adapters/postgres"
	temporaladapter "github.com/sigmap/terrascene/internal/adapters/temporal"
	"github.com/sigmap/terrascene/internal/adapters/valkey"
	"github.com/sigmap/terrascene/internal/app"
	"github.com/sigmap/terrascene/internal/core/ports"
	"github.com/sigmap/terrascene/internal/core/usecases"
	"github.com/sigmap/terrascene/internal/pkg/config"
	"github.com/sigmap/terrascene/internal/pkg/logging"
	"github.com/sigmap/terrascene/internal/pkg/telemetry"
	"github.com/sigmap/terrascene/internal/workflows"
)

func main() {
	cfg, err := config.Load("terrascene-worker", nil)
	if err != nil {
		log.Fatalf("config: %v", err)
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

	var cache ports.CacheService
	if cfg.Valkey.Addr != "" {
		c, err := valkey.New(cfg.Valkey.Addr)
		if err != nil {
			slog.Warn("valkey unavailable, DEM cache disabled", "error", err)
		} else {
			defer c.Close()
			cache = c
		}
	}

	// Run events go out on NATS; the transmitter registry consumes them back.
	var events ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, run events disabled", "error", err)
	} else {
		defer pub.Close()
		events = pub
	}

	runs := usecases.NewRunService(postgres.NewRunRepo(db), postgres.NewTransmitterRepo(db), nil)

	if events != nil {
		sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
		if err != nil {
			slog.Warn("transmitter registry subscriber unavailable", "error", err)
		} else {
			defer sub.Close()
			if err := sub.SubscribeTransmitters(ctx, runs.RecordTransmitters); err != nil {
				log.Fatalf("subscribe transmitters: %v", err)
			}
		}
	}

	c, err := temporaladapter.Dial(cfg.Temporal)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer c.Close()

	taskQueue := cfg.Temporal.TaskQueue
	if taskQueue == "" {
		taskQueue = temporaladapter.DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{
		// Generations are disk and CPU heavy; run them one at a time.
		MaxConcurrentActivityExecutionSize: 1,
	})

	w.RegisterWorkflow(workflows.SceneGenerationWorkflow)
	w.RegisterActivity(&workflows.SceneActivities{
		Scenes: app.SceneService(cfg, cache, events),
		Runs:   runs,
	})

	slog.Info("scene worker started", "task_queue", taskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
