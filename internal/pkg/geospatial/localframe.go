package geospatial

import (
	"math"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// LocalFrame is an equirectangular projection centred on a bounding box.
// It is accurate to the meter for areas of a few kilometres and exactly
// invertible, so ToGlobal(ToLocal(p)) == p up to floating-point rounding.
type LocalFrame struct {
	origin domain.GeoPoint
	// meters per degree of longitude at the origin latitude
	kx float64
	ky float64
}

// NewLocalFrame centres a frame on the bounding-box centroid.
func NewLocalFrame(bbox domain.BoundingBox) LocalFrame {
	return NewLocalFrameAt(bbox.Center())
}

// NewLocalFrameAt centres a frame on an arbitrary origin.
func NewLocalFrameAt(origin domain.GeoPoint) LocalFrame {
	return LocalFrame{
		origin: origin,
		kx:     domain.MetersPerDegree * math.Cos(toRad(origin.Lat)),
		ky:     domain.MetersPerDegree,
	}
}

// Origin returns the geographic point at local (0, 0).
func (f LocalFrame) Origin() domain.GeoPoint { return f.origin }

// ToLocal projects lon/lat to local meters.
func (f LocalFrame) ToLocal(lon, lat float64) domain.LocalPoint {
	return domain.LocalPoint{
		X: (lon - f.origin.Lon) * f.kx,
		Y: (lat - f.origin.Lat) * f.ky,
	}
}

// ToGlobal converts local meters back to lon/lat.
func (f LocalFrame) ToGlobal(p domain.LocalPoint) (lon, lat float64) {
	return f.origin.Lon + p.X/f.kx, f.origin.Lat + p.Y/f.ky
}

// LocalBounds projects a bounding box into the frame.
func (f LocalFrame) LocalBounds(bbox domain.BoundingBox) domain.LocalBounds {
	lo := f.ToLocal(bbox.MinLon(), bbox.MinLat())
	hi := f.ToLocal(bbox.MaxLon(), bbox.MaxLat())
	return domain.LocalBounds{MinX: lo.X, MinY: lo.Y, MaxX: hi.X, MaxY: hi.Y}
}

// WidthMeters returns the east-west extent of bbox in this frame.
func (f LocalFrame) WidthMeters(bbox domain.BoundingBox) float64 {
	return (bbox.MaxLon() - bbox.MinLon()) * f.kx
}

// HeightMeters returns the north-south extent of bbox in this frame.
func (f LocalFrame) HeightMeters(bbox domain.BoundingBox) float64 {
	return (bbox.MaxLat() - bbox.MinLat()) * f.ky
}
