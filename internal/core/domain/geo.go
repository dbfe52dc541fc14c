package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LocalPoint is a position in the scene's local-meter frame, with (0,0) at
// the bounding-box centre.
type LocalPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LocalBounds is an axis-aligned rectangle in the local-meter frame.
type LocalBounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// StrictlyContains reports whether o lies inside b without touching its edges.
func (b LocalBounds) StrictlyContains(o LocalBounds) bool {
	return b.MinX < o.MinX && b.MinY < o.MinY && b.MaxX > o.MaxX && b.MaxY > o.MaxY
}

// Contains reports whether p lies inside b, edges included.
func (b LocalBounds) Contains(p LocalPoint) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// BoundingBox is an immutable geographic area of interest in decimal degrees.
// Build it with NewBoundingBox; the zero value is not a valid box.
type BoundingBox struct {
	minLon, minLat, maxLon, maxLat float64
}

// NewBoundingBox validates and returns a bounding box. Degenerate or
// inverted boxes are rejected.
func NewBoundingBox(minLon, minLat, maxLon, maxLat float64) (BoundingBox, error) {
	for _, v := range []float64{minLon, minLat, maxLon, maxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return BoundingBox{}, fmt.Errorf("bounding box coordinates must be finite")
		}
	}
	if minLon >= maxLon {
		return BoundingBox{}, fmt.Errorf("min_lon (%v) must be less than max_lon (%v)", minLon, maxLon)
	}
	if minLat >= maxLat {
		return BoundingBox{}, fmt.Errorf("min_lat (%v) must be less than max_lat (%v)", minLat, maxLat)
	}
	if minLon < -180 || maxLon > 180 || minLat < -90 || maxLat > 90 {
		return BoundingBox{}, fmt.Errorf("bounding box (%v, %v, %v, %v) is outside WGS84 range", minLon, minLat, maxLon, maxLat)
	}
	return BoundingBox{minLon: minLon, minLat: minLat, maxLon: maxLon, maxLat: maxLat}, nil
}

// MinLon returns the western edge in degrees.
func (b BoundingBox) MinLon() float64 { return b.minLon }

// MinLat returns the southern edge in degrees.
func (b BoundingBox) MinLat() float64 { return b.minLat }

// MaxLon returns the eastern edge in degrees.
func (b BoundingBox) MaxLon() float64 { return b.maxLon }

// MaxLat returns the northern edge in degrees.
func (b BoundingBox) MaxLat() float64 { return b.maxLat }

// IsZero reports whether b was never constructed.
func (b BoundingBox) IsZero() bool {
	return b == BoundingBox{}
}

// Center returns the box centroid.
func (b BoundingBox) Center() GeoPoint {
	return GeoPoint{Lat: (b.minLat + b.maxLat) / 2, Lon: (b.minLon + b.maxLon) / 2}
}

// Bound converts the box to an orb.Bound (X = lon, Y = lat).
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.minLon, b.minLat},
		Max: orb.Point{b.maxLon, b.maxLat},
	}
}

// ContainsBound reports whether o lies fully inside b.
func (b BoundingBox) ContainsBound(o orb.Bound) bool {
	return o.Min.X() >= b.minLon && o.Max.X() <= b.maxLon &&
		o.Min.Y() >= b.minLat && o.Max.Y() <= b.maxLat
}

// Pad grows the box by the given distance in meters on every side.
func (b BoundingBox) Pad(meters float64) BoundingBox {
	if meters <= 0 {
		return b
	}
	c := b.Center()
	dLat := meters / MetersPerDegree
	dLon := meters / (MetersPerDegree * math.Cos(c.Lat*math.Pi/180))
	return BoundingBox{
		minLon: math.Max(-180, b.minLon-dLon),
		minLat: math.Max(-90, b.minLat-dLat),
		maxLon: math.Min(180, b.maxLon+dLon),
		maxLat: math.Min(90, b.maxLat+dLat),
	}
}

// PolygonPoints returns the closed ring of the box as [lon, lat] pairs,
// the shape expected by the base-scene generator.
func (b BoundingBox) PolygonPoints() [][2]float64 {
	return [][2]float64{
		{b.minLon, b.minLat},
		{b.minLon, b.maxLat},
		{b.maxLon, b.maxLat},
		{b.maxLon, b.minLat},
		{b.minLon, b.minLat},
	}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%.6f, %.6f, %.6f, %.6f)", b.minLon, b.minLat, b.maxLon, b.maxLat)
}

// Bounds is the serialisable form of a bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Bounds returns the serialisable form of b.
func (b BoundingBox) Bounds() Bounds {
	return Bounds{MinLat: b.minLat, MinLon: b.minLon, MaxLat: b.maxLat, MaxLon: b.maxLon}
}

// BoundingBox validates the serialised bounds.
func (b Bounds) BoundingBox() (BoundingBox, error) {
	return NewBoundingBox(b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// MetersPerDegree is the length of one degree of latitude used by the
// equirectangular local projection.
const MetersPerDegree = 111320.0
