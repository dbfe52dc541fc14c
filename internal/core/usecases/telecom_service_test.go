package usecases_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/usecases"
	"github.com/sigmap/terrascene/internal/pkg/geospatial"
)

func ptr(v float64) *float64 { return &v }

func telecomConfig() usecases.TelecomConfig {
	return usecases.TelecomConfig{DefaultHeight: 150, Radius: 2, Sections: 16, DedupeRadius: 5}
}

func TestTelecomService_BuildMeshes(t *testing.T) {
	bbox := sceneBox(t)
	c := bbox.Center()
	features := []domain.TelecomFeature{
		{ID: "1", Type: "node", Lat: ptr(c.Lat), Lon: ptr(c.Lon), Tags: map[string]string{"height": "35 m"}},
		{ID: "2", Type: "way", Tags: map[string]string{"tower:type": "communication"}},
		{ID: "3", Type: "node", Lat: ptr(c.Lat + 0.00001), Lon: ptr(c.Lon)},
		{ID: "4", Type: "node", Lat: ptr(c.Lat + 0.005), Lon: ptr(c.Lon - 0.005), Tags: map[string]string{"height": "tall"}},
	}

	svc := usecases.NewTelecomService(&mockFeatures{}, telecomConfig())
	structs, txs, skipped := svc.BuildMeshes(features, geospatial.NewLocalFrame(bbox))

	if len(skipped) != 1 || skipped[0].ID != "2" || skipped[0].Kind != domain.KindTelecom {
		t.Fatalf("expected feature 2 skipped, got %+v", skipped)
	}
	if len(structs) != 2 || len(txs) != 2 {
		t.Fatalf("expected 2 towers after de-duplication, got %d", len(structs))
	}
	if txs[0].Height != 35 {
		t.Errorf("expected height from tag, got %v", txs[0].Height)
	}
	if txs[1].Height != 150 {
		t.Errorf("unparseable height should fall back to default, got %v", txs[1].Height)
	}
	if got := len(structs[0].Parts[domain.PartMast].Vertices); got != 2*16+2 {
		t.Errorf("expected 34 cylinder vertices, got %d", got)
	}
	if math.Abs(txs[0].Local.X) > 1e-6 || math.Abs(txs[0].Local.Y) > 1e-6 {
		t.Errorf("tower at the centre should sit at the origin, got %+v", txs[0].Local)
	}
}

func TestTelecomService_TransmitterAttributesAreStable(t *testing.T) {
	bbox := sceneBox(t)
	c := bbox.Center()
	f := domain.TelecomFeature{ID: "123456", Type: "node", Lat: ptr(c.Lat), Lon: ptr(c.Lon)}
	svc := usecases.NewTelecomService(&mockFeatures{}, telecomConfig())

	_, a, _ := svc.BuildMeshes([]domain.TelecomFeature{f}, geospatial.NewLocalFrame(bbox))
	_, b, _ := svc.BuildMeshes([]domain.TelecomFeature{f}, geospatial.NewLocalFrame(bbox))
	if a[0] != b[0] {
		t.Errorf("attributes differ between runs: %+v vs %+v", a[0], b[0])
	}
	tx := a[0]
	if tx.PowerDBm < 43 || tx.PowerDBm > 46 {
		t.Errorf("power out of range: %v", tx.PowerDBm)
	}
	if tx.Tilt < 2 || tx.Tilt > 6 {
		t.Errorf("tilt out of range: %v", tx.Tilt)
	}
	if tx.Azimuth < 0 || tx.Azimuth >= 360 {
		t.Errorf("azimuth out of range: %v", tx.Azimuth)
	}
	if tx.ActiveUsers < 0 || tx.ActiveUsers > 100 {
		t.Errorf("active users out of range: %v", tx.ActiveUsers)
	}
	if tx.Frequency != 3.5e9 || tx.Model != "Generic 5G Tower" || tx.Type != "Macro" {
		t.Errorf("unexpected defaults: %+v", tx)
	}
}

func TestTelecomService_Process(t *testing.T) {
	bbox := sceneBox(t)
	c := bbox.Center()
	features := []domain.TelecomFeature{
		{ID: "1", Type: "node", Lat: ptr(c.Lat), Lon: ptr(c.Lon)},
		{ID: "2", Type: "node", Lat: ptr(c.Lat + 0.004), Lon: ptr(c.Lon + 0.004)},
	}
	cfg := telecomConfig()
	cfg.MountOffset = 1.5
	svc := usecases.NewTelecomService(&mockFeatures{
		fetchFn: func(ctx context.Context, b domain.BoundingBox) ([]domain.TelecomFeature, error) {
			return features, nil
		},
	}, cfg)

	// Ground is missing north-east of the origin.
	sampler := samplerFunc(func(p domain.LocalPoint) (float64, error) {
		if p.X > 100 && p.Y > 100 {
			return 0, &domain.SamplingError{X: p.X, Y: p.Y, Reason: domain.ErrOutsideRaster}
		}
		return 8, nil
	})
	store := newMemStore()
	res, err := svc.Process(context.Background(), bbox, sampler, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Aligned != 1 || len(res.Transmitters) != 1 || res.Transmitters[0].ID != "1" {
		t.Fatalf("expected only tower 1 kept, got %+v", res)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].ID != "2" {
		t.Errorf("expected tower 2 skipped, got %+v", res.Skipped)
	}
	if res.Transmitters[0].GroundZ != 9.5 {
		t.Errorf("expected ground 9.5 including mount offset, got %v", res.Transmitters[0].GroundZ)
	}
	mesh := store.get(usecases.TransmittersFile)
	if mesh == nil {
		t.Fatal("transmitter mesh not written")
	}
	if z := mesh.MinZ(); math.Abs(z-9.5) > 1e-9 {
		t.Errorf("expected tower base at 9.5, got %v", z)
	}
}

func TestTelecomService_FetchFailureIsNotFatal(t *testing.T) {
	svc := usecases.NewTelecomService(&mockFeatures{
		fetchFn: func(ctx context.Context, b domain.BoundingBox) ([]domain.TelecomFeature, error) {
			return nil, errors.New("overpass down")
		},
	}, telecomConfig())

	store := newMemStore()
	res, err := svc.Process(context.Background(), sceneBox(t), constSampler(0), store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "" || res.Aligned != 0 {
		t.Errorf("expected no towers, got %+v", res)
	}
}

func TestToDitto(t *testing.T) {
	thing := usecases.ToDitto(domain.Transmitter{
		ID: "42", Location: domain.GeoPoint{Lat: 46.06, Lon: 11.12}, Height: 30,
		Model: "m", Type: "Macro", PowerDBm: 44, Tilt: 3.14159, Azimuth: 120.456,
		Frequency: 3.5e9, ActiveUsers: 7,
	})
	if thing.ThingID != "com.sionna:42" {
		t.Errorf("unexpected thing id %q", thing.ThingID)
	}
	props := thing.Features.Configuration.Properties
	if props.MechanicalTilt != 3.14 || props.AzimuthDeg != 120.46 {
		t.Errorf("expected rounded tilt/azimuth, got %v / %v", props.MechanicalTilt, props.AzimuthDeg)
	}
	if props.AdminState != "enabled" || thing.Features.Status.Properties.OperationalState != "up" {
		t.Error("unexpected states")
	}
	if thing.Attributes.Location.HeightM != 30 {
		t.Errorf("unexpected height %v", thing.Attributes.Location.HeightM)
	}
}
