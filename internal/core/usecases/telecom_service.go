package usecases

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/dhconnelly/rtreego"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/meshing"
	"github.com/sigmap/terrascene/internal/core/ports"
	"github.com/sigmap/terrascene/internal/pkg/geospatial"
	"github.com/sigmap/terrascene/internal/pkg/metrics"
)

// Transmitter mesh output.
const (
	TransmittersFile  = "mesh/transmitters.ply"
	TransmittersShape = "mesh-transmitters"
	TransmittersBSDF  = "mat-itu_metal"
	TransmittersMat   = "metal"
)

// Defaults for transmitters whose tags say nothing.
const (
	defaultModel     = "Generic 5G Tower"
	defaultType      = "Macro"
	defaultFrequency = 3.5e9
)

// TelecomConfig shapes the tower meshes.
type TelecomConfig struct {
	DefaultHeight float64
	// MountOffset lifts the tower base above the sampled ground.
	MountOffset float64
	Radius      float64
	Sections    int
	// DedupeRadius drops features closer than this to one already kept.
	DedupeRadius float64
}

// TelecomResult describes what Process produced.
type TelecomResult struct {
	Aligned      int
	Skipped      []domain.SkippedStructure
	Transmitters []domain.Transmitter
	// Output is the tower mesh file, empty when no tower survived.
	Output string
}

// TelecomService turns OSM telecom features into terrain-aligned tower
// meshes and transmitter records.
type TelecomService struct {
	source ports.FeatureSource
	cfg    TelecomConfig
}

// NewTelecomService creates a new TelecomService.
func NewTelecomService(source ports.FeatureSource, cfg TelecomConfig) *TelecomService {
	if cfg.DefaultHeight <= 0 {
		cfg.DefaultHeight = 150
	}
	if cfg.Radius <= 0 {
		cfg.Radius = 2
	}
	if cfg.Sections < 3 {
		cfg.Sections = 16
	}
	return &TelecomService{source: source, cfg: cfg}
}

// Fetch returns the telecom features inside bbox.
func (s *TelecomService) Fetch(ctx context.Context, bbox domain.BoundingBox) ([]domain.TelecomFeature, error) {
	return s.source.TelecomFeatures(ctx, bbox)
}

type towerPoint struct {
	p domain.LocalPoint
}

func (t *towerPoint) Bounds() rtreego.Rect {
	return rtreego.Point{t.p.X, t.p.Y}.ToRect(minExtent)
}

const minExtent = 1e-6

// BuildMeshes creates one tower per usable feature. Features without a
// position are skipped; features within DedupeRadius of a kept one are
// dropped as duplicates.
func (s *TelecomService) BuildMeshes(features []domain.TelecomFeature, frame geospatial.LocalFrame) ([]*domain.Structure, []domain.Transmitter, []domain.SkippedStructure) {
	var (
		structs []*domain.Structure
		txs     []domain.Transmitter
		skipped []domain.SkippedStructure
	)
	index := rtreego.NewTree(2, 25, 50)

	for _, f := range features {
		if f.Lat == nil || f.Lon == nil {
			err := &domain.GeometryError{FeatureID: f.ID, Reason: fmt.Sprintf("%s has no position", f.Type)}
			slog.Warn("skipping telecom feature", "structure_id", f.ID, "kind", domain.KindTelecom, "error", err)
			skipped = append(skipped, skip(f.ID, domain.KindTelecom, err))
			continue
		}
		local := frame.ToLocal(*f.Lon, *f.Lat)

		if s.cfg.DedupeRadius > 0 && s.isDuplicate(index, local) {
			slog.Debug("dropping duplicate telecom feature", "structure_id", f.ID)
			continue
		}
		index.Insert(&towerPoint{p: local})

		tx := newTransmitter(f, local, s.towerHeight(f))
		mast := meshing.Cylinder(local.X, local.Y, s.cfg.Radius, tx.Height, s.cfg.Sections)
		structs = append(structs, &domain.Structure{
			ID:        f.ID,
			Kind:      domain.KindTelecom,
			Parts:     map[domain.PartRole]*domain.Mesh{domain.PartMast: mast},
			Reference: local,
			Footprint: domain.LocalBounds{
				MinX: local.X - s.cfg.Radius, MinY: local.Y - s.cfg.Radius,
				MaxX: local.X + s.cfg.Radius, MaxY: local.Y + s.cfg.Radius,
			},
		})
		txs = append(txs, tx)
	}
	return structs, txs, skipped
}

func (s *TelecomService) isDuplicate(index *rtreego.Rtree, p domain.LocalPoint) bool {
	r := s.cfg.DedupeRadius
	area, _ := rtreego.NewRect(rtreego.Point{p.X - r, p.Y - r}, []float64{2 * r, 2 * r})
	for _, hit := range index.SearchIntersect(area) {
		q := hit.(*towerPoint).p
		if math.Hypot(q.X-p.X, q.Y-p.Y) <= r {
			return true
		}
	}
	return false
}

// towerHeight reads the OSM height tag ("35", "35 m"), falling back to
// the configured default.
func (s *TelecomService) towerHeight(f domain.TelecomFeature) float64 {
	raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(f.Tags["height"]), "m"))
	if h, err := strconv.ParseFloat(raw, 64); err == nil && h > 0 {
		return h
	}
	return s.cfg.DefaultHeight
}

// newTransmitter fills radio attributes. Values not present in the tags are
// drawn from a generator seeded by the feature id, so reruns agree.
func newTransmitter(f domain.TelecomFeature, local domain.LocalPoint, height float64) domain.Transmitter {
	h := fnv.New64a()
	_, _ = h.Write([]byte(f.ID))
	rng := rand.New(rand.NewPCG(h.Sum64(), 0x7e1ec0))

	tx := domain.Transmitter{
		ID:          f.ID,
		Location:    domain.GeoPoint{Lat: *f.Lat, Lon: *f.Lon},
		Local:       local,
		Height:      height,
		Model:       defaultModel,
		Type:        defaultType,
		PowerDBm:    43 + 3*rng.Float64(),
		Tilt:        2 + 4*rng.Float64(),
		Azimuth:     360 * rng.Float64(),
		Frequency:   defaultFrequency,
		ActiveUsers: rng.IntN(101),
	}
	if v := f.Tags["model"]; v != "" {
		tx.Model = v
	}
	if v, err := strconv.ParseFloat(f.Tags["direction"], 64); err == nil {
		tx.Azimuth = math.Mod(v+360, 360)
	}
	return tx
}

// Align seats every tower on the terrain plus MountOffset. Towers over
// unsampleable ground are skipped along with their transmitter.
func (s *TelecomService) Align(structs []*domain.Structure, txs []domain.Transmitter, sampler ports.HeightSampler) ([]*domain.Structure, []domain.Transmitter, []domain.SkippedStructure) {
	var (
		aligned []*domain.Structure
		kept    []domain.Transmitter
		skipped []domain.SkippedStructure
	)
	for i, st := range structs {
		ground, err := sampler.Elevation(st.Reference)
		if err != nil {
			slog.Warn("skipping telecom feature", "structure_id", st.ID, "kind", domain.KindTelecom, "error", err)
			skipped = append(skipped, skip(st.ID, domain.KindTelecom, err))
			continue
		}
		st.TranslateZ(ground + s.cfg.MountOffset - st.BaseZ())
		tx := txs[i]
		tx.GroundZ = ground + s.cfg.MountOffset
		aligned = append(aligned, st)
		kept = append(kept, tx)
	}
	return aligned, kept, skipped
}

// Process fetches, builds, aligns and writes the transmitter meshes. A
// failed fetch leaves the scene without towers instead of failing the run.
func (s *TelecomService) Process(ctx context.Context, bbox domain.BoundingBox, sampler ports.HeightSampler, store ports.MeshStore) (*TelecomResult, error) {
	res := &TelecomResult{}
	features, err := s.Fetch(ctx, bbox)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Error("telecom fetch failed, continuing without towers", "error", err)
		return res, nil
	}
	if len(features) == 0 {
		slog.Warn("no telecom features found", "bbox", bbox.String())
		return res, nil
	}

	structs, txs, skipped := s.BuildMeshes(features, geospatial.NewLocalFrame(bbox))
	aligned, kept, alignSkipped := s.Align(structs, txs, sampler)
	res.Skipped = append(skipped, alignSkipped...)
	res.Aligned = len(aligned)
	res.Transmitters = kept
	metrics.StructuresTotal.WithLabelValues(string(domain.KindTelecom), "aligned").Add(float64(res.Aligned))
	metrics.StructuresTotal.WithLabelValues(string(domain.KindTelecom), "skipped").Add(float64(len(res.Skipped)))

	if len(aligned) == 0 {
		return res, nil
	}
	masts := make([]*domain.Mesh, len(aligned))
	for i, st := range aligned {
		masts[i] = st.Parts[domain.PartMast]
	}
	if err := store.Save(TransmittersFile, meshing.Merge(masts...)); err != nil {
		return nil, fmt.Errorf("save %s: %w", TransmittersFile, err)
	}
	res.Output = TransmittersFile
	slog.Info("transmitters processed", "towers", res.Aligned, "skipped", len(res.Skipped))
	return res, nil
}
