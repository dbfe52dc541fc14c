package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	natsadapter "github.com/sigmap/terrascene/internal/adapters/nats"
	"github.com/sigmap/terrascene/internal/adapters/valkey"
	"github.com/sigmap/terrascene/internal/app"
	"github.com/sigmap/terrascene/internal/core/ports"
	"github.com/sigmap/terrascene/internal/core/usecases"
	"github.com/sigmap/terrascene/internal/pkg/config"
	"github.com/sigmap/terrascene/internal/pkg/logging"
	"github.com/sigmap/terrascene/internal/pkg/telemetry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("scenegen failed", "error", err)
		os.Exit(1)
	}
}

// run is main without os.Exit, so its defers always execute.
func run(args []string) error {
	flags := pflag.NewFlagSet("scenegen", pflag.ContinueOnError)
	flags.String("config", "", "path to a config file")
	flags.String("bbox", "", "scene bounds as min_lon,min_lat,max_lon,max_lat")
	flags.String("output", "", "scene output directory")
	flags.String("log-level", "", "debug, info, warn or error")
	noCache := flags.Bool("no-cache", false, "bypass the DEM cache")
	publish := flags.Bool("publish", false, "publish run events to NATS")
	runID := flags.String("run-id", "", "run id (default: random)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load("terrascene-scenegen", flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	bbox, err := cfg.Scene.BoundingBox()
	if err != nil {
		return fmt.Errorf("scene bounds: %w (set --bbox or scene.min_lon..max_lat)", err)
	}
	if *runID == "" {
		*runID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(sctx)
			}()
		}
	}

	var cache ports.CacheService
	if cfg.Valkey.Addr != "" && !*noCache {
		c, err := valkey.New(cfg.Valkey.Addr)
		if err != nil {
			slog.Warn("valkey unavailable, DEM cache disabled", "error", err)
		} else {
			defer c.Close()
			cache = c
		}
	}

	var events ports.EventPublisher
	if *publish {
		p, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable, run events disabled", "error", err)
		} else {
			defer p.Close()
			events = p
		}
	}

	svc := app.SceneService(cfg, cache, events)
	report, err := svc.Generate(ctx, *runID, bbox, cfg.Scene.Materials)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	}
	if err != nil {
		if stage, ok := usecases.FailedStage(err); ok {
			return fmt.Errorf("scene generation failed at %s: %w", stage, err)
		}
		return fmt.Errorf("scene generation failed: %w", err)
	}

	if cfg.Telecom.ExportPath != "" && report.TelecomAligned > 0 {
		src := filepath.Join(cfg.Scene.OutputDir, usecases.TransmittersExport)
		if err := copyFile(src, cfg.Telecom.ExportPath); err != nil {
			return fmt.Errorf("transmitter export to %s: %w", cfg.Telecom.ExportPath, err)
		}
		slog.Info("transmitters exported", "path", cfg.Telecom.ExportPath)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
