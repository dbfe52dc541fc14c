package wcs

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// DecodeArcGrid parses an ESRI ASCII grid into a raster in crs.
func DecodeArcGrid(r io.Reader, crs string) (*domain.ElevationRaster, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	hdr := map[string]float64{}
	var pending string
	for sc.Scan() {
		tok := sc.Text()
		key := strings.ToLower(tok)
		if !isHeaderKey(key) {
			pending = tok
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("arcgrid: missing value for %s", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("arcgrid: %s: %w", key, err)
		}
		hdr[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("arcgrid: %w", err)
	}

	cols, rows := int(hdr["ncols"]), int(hdr["nrows"])
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("arcgrid %dx%d: %w", rows, cols, domain.ErrEmptyCoverage)
	}
	dx, dy := hdr["cellsize"], hdr["cellsize"]
	if _, ok := hdr["dx"]; ok {
		dx, dy = hdr["dx"], hdr["dy"]
	}
	if dx <= 0 || dy <= 0 {
		return nil, fmt.Errorf("arcgrid: cell size must be positive")
	}

	x0, okX := hdr["xllcorner"]
	if c, ok := hdr["xllcenter"]; ok {
		x0, okX = c-dx/2, true
	}
	y0, okY := hdr["yllcorner"]
	if c, ok := hdr["yllcenter"]; ok {
		y0, okY = c-dy/2, true
	}
	if !okX || !okY {
		return nil, fmt.Errorf("arcgrid: missing lower-left corner")
	}

	values := make([]float64, 0, rows*cols)
	parse := func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("arcgrid: sample %d: %w", len(values), err)
		}
		values = append(values, v)
		return nil
	}
	if pending != "" {
		if err := parse(pending); err != nil {
			return nil, err
		}
	}
	for len(values) < rows*cols && sc.Scan() {
		if err := parse(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("arcgrid: %w", err)
	}
	if len(values) != rows*cols {
		return nil, fmt.Errorf("arcgrid: got %d samples, want %d", len(values), rows*cols)
	}

	var noData *float64
	if nd, ok := hdr["nodata_value"]; ok {
		noData = &nd
	}
	gt := domain.GeoTransform{
		OriginX:     x0,
		OriginY:     y0 + float64(rows)*dy,
		PixelWidth:  dx,
		PixelHeight: dy,
	}
	return domain.NewElevationRaster(rows, cols, values, noData, gt, crs)
}

func isHeaderKey(k string) bool {
	switch k {
	case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter",
		"cellsize", "dx", "dy", "nodata_value":
		return true
	}
	return false
}
