// Package basescene runs the external base-scene generator, which turns OSM
// data for an area into scene.xml plus ground and per-building PLY meshes.
package basescene

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// Config selects the generator executable.
type Config struct {
	Command   string
	Args      []string
	OSMServer string
}

// Request is written to the generator's stdin as JSON.
type Request struct {
	Points        [][2]float64 `json:"points"`
	DataDir       string       `json:"data_dir"`
	OSMServerAddr string       `json:"osm_server_addr"`
	GroundMat     string       `json:"ground_material_type"`
	RooftopMat    string       `json:"rooftop_material_type"`
	WallMat       string       `json:"wall_material_type"`
	// Terrain comes from the DEM pipeline, never from the generator.
	LidarTerrain bool `json:"lidar_terrain"`
	DEMTerrain   bool `json:"dem_terrain"`
}

// Generator implements ports.BaseSceneGenerator as a subprocess.
type Generator struct {
	cfg Config
}

// New creates a generator.
func New(cfg Config) *Generator {
	return &Generator{cfg: cfg}
}

// Generate runs the generator into dir and checks that it produced a scene.
func (g *Generator) Generate(ctx context.Context, bbox domain.BoundingBox, materials domain.MaterialConfig, dir string) error {
	if g.cfg.Command == "" {
		return fmt.Errorf("base scene generator command is not configured")
	}
	if err := os.MkdirAll(filepath.Join(dir, "mesh"), 0o755); err != nil {
		return fmt.Errorf("create scene dir: %w", err)
	}

	req := Request{
		Points:        bbox.PolygonPoints(),
		DataDir:       dir,
		OSMServerAddr: g.cfg.OSMServer,
		GroundMat:     domain.ResolveMaterial(materials.GroundIdx),
		RooftopMat:    domain.ResolveMaterial(materials.RooftopIdx),
		WallMat:       domain.ResolveMaterial(materials.WallIdx),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, g.cfg.Command, g.cfg.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Info("generating base scene", "command", g.cfg.Command, "bbox", bbox.String(), "dir", dir)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("base scene generator: %w: %s", err, lastLine(stderr.String()))
	}
	if out := strings.TrimSpace(stdout.String()); out != "" {
		slog.Debug("base scene generator output", "output", out)
	}

	if _, err := os.Stat(filepath.Join(dir, "scene.xml")); err != nil {
		return fmt.Errorf("base scene generator produced no scene.xml: %w", err)
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
