package terrain

import (
	"fmt"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// ReferenceElevation samples the raster at the bounding-box centroid. The
// result is the scene's elevation zero-point and depends only on its inputs.
func ReferenceElevation(r *domain.ElevationRaster, bbox domain.BoundingBox) (float64, error) {
	c := bbox.Center()
	v, err := sampleRaw(r, c.Lon, c.Lat)
	if err != nil {
		return 0, fmt.Errorf("reference elevation at scene centre: %w",
			&domain.SamplingError{Lon: c.Lon, Lat: c.Lat, Reason: err})
	}
	return v, nil
}
