// Package app assembles the scene generation pipeline from configuration.
package app

import (
	"log/slog"

	"github.com/sigmap/terrascene/internal/adapters/basescene"
	"github.com/sigmap/terrascene/internal/adapters/ditto"
	"github.com/sigmap/terrascene/internal/adapters/mitsuba"
	"github.com/sigmap/terrascene/internal/adapters/overpass"
	"github.com/sigmap/terrascene/internal/adapters/ply"
	"github.com/sigmap/terrascene/internal/adapters/wcs"
	"github.com/sigmap/terrascene/internal/core/ports"
	"github.com/sigmap/terrascene/internal/core/usecases"
	"github.com/sigmap/terrascene/internal/pkg/config"
)

// SceneService wires the pipeline described by cfg. cache and events may
// be nil.
func SceneService(cfg *config.Config, cache ports.CacheService, events ports.EventPublisher) *usecases.SceneService {
	var opts []wcs.Option
	if cache != nil {
		opts = append(opts, wcs.WithCache(cache))
	}
	coverage := wcs.NewClient(wcs.Config{
		URL:            cfg.DEM.WCSURL,
		CoverageID:     cfg.DEM.CoverageID,
		Format:         cfg.DEM.Format,
		MaxAttempts:    cfg.DEM.MaxAttempts,
		InitialBackoff: cfg.DEM.InitialBackoff,
		Timeout:        cfg.DEM.Timeout,
		CacheTTL:       cfg.DEM.CacheTTL,
	}, opts...)

	var telecom *usecases.TelecomService
	if cfg.Telecom.Enabled {
		telecom = usecases.NewTelecomService(overpass.NewClient(overpass.Config{
			URL:     cfg.Telecom.OverpassURL,
			Timeout: cfg.Telecom.Timeout,
		}), usecases.TelecomConfig{
			DefaultHeight: cfg.Telecom.DefaultHeight,
			MountOffset:   cfg.Telecom.MountOffset,
			Radius:        cfg.Telecom.Radius,
			Sections:      cfg.Telecom.Sections,
			DedupeRadius:  cfg.Telecom.DedupeRadius,
		})
	} else {
		slog.Info("telecom infrastructure disabled")
	}

	var registry ports.TransmitterRegistry
	if cfg.Ditto.Enabled {
		registry = ditto.NewClient(ditto.Config{
			URL:         cfg.Ditto.URL,
			Username:    cfg.Ditto.Username,
			Password:    cfg.Ditto.Password,
			Namespace:   cfg.Ditto.Namespace,
			PolicyID:    cfg.Ditto.PolicyID,
			Timeout:     cfg.Ditto.Timeout,
			MaxAttempts: cfg.Ditto.MaxAttempts,
		})
	}

	return usecases.NewSceneService(usecases.SceneDeps{
		BaseScene: basescene.New(basescene.Config{
			Command:   cfg.BaseScene.Command,
			Args:      cfg.BaseScene.Args,
			OSMServer: cfg.BaseScene.OSMServer,
		}),
		Terrain: usecases.NewTerrainService(coverage, usecases.TerrainConfig{
			PaddingM:      cfg.DEM.PaddingM,
			ResolutionDeg: cfg.DEM.ResolutionDeg,
			CRS:           cfg.DEM.CRS,
			MaxEdgeM:      cfg.DEM.MaxEdgeM,
		}),
		Buildings: usecases.NewBuildingService(usecases.BuildingConfig{
			EmbedDepth:     cfg.Buildings.EmbedDepth,
			WeldTolerance:  cfg.Buildings.WeldTolerance,
			DegenerateArea: cfg.Buildings.DegenerateArea,
			MergeBatchSize: cfg.Buildings.MergeBatchSize,
			MergeRadius:    cfg.Buildings.MergeRadius,
			Workers:        cfg.Buildings.Workers,
			FootprintStep:  cfg.Buildings.FootprintStep,
		}),
		Telecom:   telecom,
		OpenScene: mitsuba.Open,
		NewStore:  func(dir string) ports.MeshStore { return ply.NewStore(dir) },
		Events:    events,
		Registry:  registry,
	}, usecases.SceneConfig{
		OutputDir: cfg.Scene.OutputDir,
		WorkDir:   cfg.Scene.WorkDir,
	})
}
