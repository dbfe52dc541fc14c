package geospatial

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/wroge/wgs84"
)

// Projection converts between WGS84 lon/lat and a projected CRS.
type Projection interface {
	// Forward maps lon/lat to CRS coordinates.
	Forward(lon, lat float64) (x, y float64)
	// Inverse maps CRS coordinates to lon/lat.
	Inverse(x, y float64) (lon, lat float64)
}

// ForCRS returns the projection for an EPSG identifier such as
// "EPSG:4326", "EPSG:3857" or "EPSG:32632".
func ForCRS(crs string) (Projection, error) {
	code, err := epsgCode(crs)
	if err != nil {
		return nil, err
	}
	switch {
	case code == 4326:
		return identity{}, nil
	case code == 3857 || code == 900913:
		return webMercator{}, nil
	case code > 32600 && code <= 32660:
		return newUTM(code-32600, false), nil
	case code > 32700 && code <= 32760:
		return newUTM(code-32700, true), nil
	default:
		return nil, fmt.Errorf("unsupported CRS %q", crs)
	}
}

// SameCRS reports whether two identifiers name the same EPSG code.
func SameCRS(a, b string) bool {
	ca, errA := epsgCode(a)
	cb, errB := epsgCode(b)
	return errA == nil && errB == nil && ca == cb
}

// UTMZoneCRS returns the UTM CRS identifier covering a point.
func UTMZoneCRS(lon, lat float64) string {
	zone := int((lon+180)/6) + 1
	if zone > 60 {
		zone = 60
	}
	if lat >= 0 {
		return fmt.Sprintf("EPSG:326%02d", zone)
	}
	return fmt.Sprintf("EPSG:327%02d", zone)
}

func epsgCode(crs string) (int, error) {
	s := strings.ToUpper(strings.TrimSpace(crs))
	s = strings.TrimPrefix(s, "URN:OGC:DEF:CRS:EPSG::")
	s = strings.TrimPrefix(s, "EPSG:")
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse CRS %q: %w", crs, err)
	}
	return code, nil
}

type identity struct{}

func (identity) Forward(lon, lat float64) (float64, float64) { return lon, lat }
func (identity) Inverse(x, y float64) (float64, float64)     { return x, y }

type webMercator struct{}

func (webMercator) Forward(lon, lat float64) (float64, float64) {
	p := project.WGS84.ToMercator(orb.Point{lon, lat})
	return p.X(), p.Y()
}

func (webMercator) Inverse(x, y float64) (float64, float64) {
	p := project.Mercator.ToWGS84(orb.Point{x, y})
	return p.X(), p.Y()
}

// utm is a WGS84 transverse Mercator zone.
type utm struct {
	forward wgs84.Func
	inverse wgs84.Func
}

func newUTM(zone int, south bool) utm {
	lonLat := wgs84.LonLat()
	zoned := wgs84.UTM(float64(zone), !south)
	return utm{forward: lonLat.To(zoned), inverse: zoned.To(lonLat)}
}

func (u utm) Forward(lon, lat float64) (float64, float64) {
	x, y, _ := u.forward(lon, lat, 0)
	return x, y
}

func (u utm) Inverse(x, y float64) (float64, float64) {
	lon, lat, _ := u.inverse(x, y, 0)
	return lon, lat
}

// ProjectBound maps the corners and edge midpoints of a lon/lat bound into
// the projection and returns their envelope.
func ProjectBound(p Projection, b orb.Bound) orb.Bound {
	var out orb.Bound
	first := true
	for _, fx := range []float64{0, 0.5, 1} {
		for _, fy := range []float64{0, 0.5, 1} {
			lon := b.Min.X() + fx*(b.Max.X()-b.Min.X())
			lat := b.Min.Y() + fy*(b.Max.Y()-b.Min.Y())
			x, y := p.Forward(lon, lat)
			pt := orb.Point{x, y}
			if first {
				out = pt.Bound()
				first = false
				continue
			}
			out = out.Extend(pt)
		}
	}
	return out
}
