package usecases_test

import (
	"context"
	"fmt"
	"math"
	"path"
	"sort"
	"sync"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/ports"
)

// --- Mock CoverageProvider ---

type mockCoverage struct {
	fetchFn func(ctx context.Context, req ports.CoverageRequest) (*domain.ElevationRaster, error)
}

func (m *mockCoverage) FetchCoverage(ctx context.Context, req ports.CoverageRequest) (*domain.ElevationRaster, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, req)
	}
	return nil, nil
}

// --- Mock FeatureSource ---

type mockFeatures struct {
	fetchFn func(ctx context.Context, bbox domain.BoundingBox) ([]domain.TelecomFeature, error)
}

func (m *mockFeatures) TelecomFeatures(ctx context.Context, bbox domain.BoundingBox) ([]domain.TelecomFeature, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, bbox)
	}
	return nil, nil
}

// --- Mock BaseSceneGenerator ---

type mockBaseScene struct {
	generateFn func(ctx context.Context, bbox domain.BoundingBox, materials domain.MaterialConfig, dir string) error
}

func (m *mockBaseScene) Generate(ctx context.Context, bbox domain.BoundingBox, materials domain.MaterialConfig, dir string) error {
	if m.generateFn != nil {
		return m.generateFn(ctx, bbox, materials, dir)
	}
	return nil
}

// --- Mock EventPublisher ---

type mockEvents struct {
	mu           sync.Mutex
	events       []domain.RunEvent
	transmitters []domain.Transmitter
	// onTransmitters, if set, runs when transmitters are published.
	onTransmitters func()
}

func (m *mockEvents) PublishRunEvent(ctx context.Context, ev *domain.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockEvents) PublishTransmitters(ctx context.Context, runID string, txs []domain.Transmitter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transmitters = append(m.transmitters, txs...)
	if m.onTransmitters != nil {
		m.onTransmitters()
	}
	return nil
}

func (m *mockEvents) stages() []domain.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Stage
	for _, ev := range m.events {
		out = append(out, ev.Stage)
	}
	return out
}

type mockRegistry struct {
	mu          sync.Mutex
	provisioned []domain.Transmitter
	provisionFn func(ctx context.Context, txs []domain.Transmitter) error
}

func (m *mockRegistry) Provision(ctx context.Context, txs []domain.Transmitter) error {
	m.mu.Lock()
	m.provisioned = append(m.provisioned, txs...)
	m.mu.Unlock()
	if m.provisionFn != nil {
		return m.provisionFn(ctx, txs)
	}
	return nil
}

// --- In-memory MeshStore ---

type memStore struct {
	mu      sync.Mutex
	files   map[string]*domain.Mesh
	removed []string
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string]*domain.Mesh)}
}

func (s *memStore) List(pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name := range s.files {
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Load fails for files stored as nil, standing in for corrupt meshes.
func (s *memStore) Load(name string) (*domain.Mesh, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("open mesh %s: not found", name)
	}
	if m == nil {
		return nil, fmt.Errorf("decode mesh %s: corrupt", name)
	}
	return m.Clone(), nil
}

func (s *memStore) Save(name string, m *domain.Mesh) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = m.Clone()
	return nil
}

func (s *memStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, name)
	s.removed = append(s.removed, name)
	return nil
}

func (s *memStore) get(name string) *domain.Mesh {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[name]
}

// --- Fake SceneDescription ---

type shape struct {
	file, id, bsdf string
}

type fakeScene struct {
	shapes    []shape
	materials map[string]string
	saved     bool
}

func newFakeScene(shapes ...shape) *fakeScene {
	return &fakeScene{shapes: shapes, materials: make(map[string]string)}
}

func (f *fakeScene) RemoveShapesByFilenames(files map[string]bool) (string, int) {
	var kept []shape
	bsdf, n := "", 0
	for _, s := range f.shapes {
		if files[s.file] {
			if bsdf == "" {
				bsdf = s.bsdf
			}
			n++
			continue
		}
		kept = append(kept, s)
	}
	f.shapes = kept
	return bsdf, n
}

func (f *fakeScene) AddMeshShape(file, id, bsdf string) bool {
	for _, s := range f.shapes {
		if s.id == id {
			return false
		}
	}
	f.shapes = append(f.shapes, shape{file: file, id: id, bsdf: bsdf})
	return true
}

func (f *fakeScene) EnsureRadioMaterial(id, material string) bool {
	if _, ok := f.materials[id]; ok {
		return false
	}
	f.materials[id] = material
	return true
}

func (f *fakeScene) Save() error {
	f.saved = true
	return nil
}

func (f *fakeScene) byID(id string) (shape, bool) {
	for _, s := range f.shapes {
		if s.id == id {
			return s, true
		}
	}
	return shape{}, false
}

// --- Samplers ---

type samplerFunc func(p domain.LocalPoint) (float64, error)

func (f samplerFunc) Elevation(p domain.LocalPoint) (float64, error) { return f(p) }

func constSampler(z float64) ports.HeightSampler {
	return samplerFunc(func(domain.LocalPoint) (float64, error) { return z, nil })
}

// --- Fixtures ---

func sceneBox(t *testing.T) domain.BoundingBox {
	t.Helper()
	bbox, err := domain.NewBoundingBox(11.106, 46.056, 11.153, 46.077)
	if err != nil {
		t.Fatal(err)
	}
	return bbox
}

// rasterOver builds a WGS84 raster reaching margin degrees past bbox.
func rasterOver(t *testing.T, bbox domain.BoundingBox, margin, res float64, elev func(lon, lat float64) float64) *domain.ElevationRaster {
	t.Helper()
	gt := domain.GeoTransform{
		OriginX:     bbox.MinLon() - margin,
		OriginY:     bbox.MaxLat() + margin,
		PixelWidth:  res,
		PixelHeight: res,
	}
	cols := int(math.Ceil((bbox.MaxLon() - bbox.MinLon() + 2*margin) / res))
	rows := int(math.Ceil((bbox.MaxLat() - bbox.MinLat() + 2*margin) / res))
	values := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			lon, lat := gt.PixelCenter(i, j)
			values[i*cols+j] = elev(lon, lat)
		}
	}
	r, err := domain.NewElevationRaster(rows, cols, values, nil, gt, domain.CRSWGS84)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func flat(e float64) func(lon, lat float64) float64 {
	return func(float64, float64) float64 { return e }
}

// buildingParts returns a w x w box centred at (cx, cy) with its base at
// baseZ: four wall quads and a flat roof.
func buildingParts(cx, cy, w, baseZ, height float64) (walls, roof *domain.Mesh) {
	h := w / 2
	corners := [4][2]float64{{cx - h, cy - h}, {cx + h, cy - h}, {cx + h, cy + h}, {cx - h, cy + h}}
	walls = &domain.Mesh{}
	for i := range corners {
		a, b := corners[i], corners[(i+1)%4]
		base := len(walls.Vertices)
		walls.Vertices = append(walls.Vertices,
			r3.Vec{X: a[0], Y: a[1], Z: baseZ},
			r3.Vec{X: b[0], Y: b[1], Z: baseZ},
			r3.Vec{X: b[0], Y: b[1], Z: baseZ + height},
			r3.Vec{X: a[0], Y: a[1], Z: baseZ + height},
		)
		walls.Faces = append(walls.Faces,
			domain.Face{base, base + 1, base + 2},
			domain.Face{base, base + 2, base + 3},
		)
	}
	roof = &domain.Mesh{}
	for _, c := range corners {
		roof.Vertices = append(roof.Vertices, r3.Vec{X: c[0], Y: c[1], Z: baseZ + height})
	}
	roof.Faces = []domain.Face{{0, 1, 2}, {0, 2, 3}}
	return walls, roof
}

func addBuilding(s *memStore, id string, cx, cy, w, baseZ float64) {
	walls, roof := buildingParts(cx, cy, w, baseZ, 12)
	_ = s.Save("mesh/building_"+id+"_wall.ply", walls)
	_ = s.Save("mesh/building_"+id+"_rooftop.ply", roof)
}
