// Package wcs acquires elevation rasters from an OGC Web Coverage Service.
package wcs

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/ports"
	"github.com/sigmap/terrascene/internal/pkg/geospatial"
	"github.com/sigmap/terrascene/internal/pkg/metrics"
	"github.com/sigmap/terrascene/internal/pkg/telemetry"
)

// resolutionTolerance is the relative cell-size deviation accepted from the
// service before the coverage is rejected.
const resolutionTolerance = 0.5

// maxBody caps the size of a coverage response.
const maxBody = 256 << 20

// Config configures the WCS client.
type Config struct {
	URL            string
	CoverageID     string
	Format         string
	MaxAttempts    int
	InitialBackoff time.Duration
	Timeout        time.Duration
	CacheTTL       time.Duration
}

// Client implements ports.CoverageProvider with WCS 1.0.0 GetCoverage.
type Client struct {
	cfg   Config
	http  *http.Client
	cache ports.CacheService
}

// Option customises a Client.
type Option func(*Client)

// WithCache stores raw coverage bytes keyed by request.
func WithCache(c ports.CacheService) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(cl *Client) { cl.http = h }
}

// NewClient creates a WCS client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Format == "" {
		cfg.Format = "ArcGrid"
	}
	c := &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchCoverage downloads the padded area at the requested resolution and
// checks that the result covers the scene area.
func (c *Client) FetchCoverage(ctx context.Context, req ports.CoverageRequest) (_ *domain.ElevationRaster, err error) {
	ctx, span := telemetry.Start(ctx, "wcs.FetchCoverage", telemetry.AttrBBox.String(req.Padded.String()))
	defer func() { telemetry.End(span, err) }()

	if req.ResolutionDeg <= 0 {
		return nil, fmt.Errorf("coverage resolution must be positive, got %v", req.ResolutionDeg)
	}
	crs := req.CRS
	if crs == "" {
		crs = domain.CRSWGS84
	}
	key := c.cacheKey(req, crs)

	body, ok := c.cached(ctx, key)
	span.SetAttributes(telemetry.AttrCacheHit.Bool(ok))
	if ok {
		r, err := DecodeArcGrid(bytes.NewReader(body), crs)
		if err == nil {
			slog.Info("DEM cache hit", "bbox", req.Padded.String(), "key", key)
			return c.validate(r, req)
		}
		slog.Warn("discarding unreadable cached DEM", "key", key, "error", err)
		_ = c.cache.Delete(ctx, key)
	}

	body, err = c.download(ctx, req, crs)
	if err != nil {
		return nil, err
	}
	r, err := DecodeArcGrid(bytes.NewReader(body), crs)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyCoverage) {
			return nil, &domain.CoverageError{Reason: domain.ErrEmptyCoverage, Requested: req.Area.Bounds(), Detail: err.Error()}
		}
		return nil, &domain.AcquisitionError{Op: "decode coverage", Err: err}
	}
	r, err = c.validate(r, req)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body, int(c.cfg.CacheTTL.Seconds())); err != nil {
			slog.Warn("DEM cache write failed", "key", key, "error", err)
		}
	}
	return r, nil
}

func (c *Client) cached(ctx context.Context, key string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	body, err := c.cache.Get(ctx, key)
	if err != nil || len(body) == 0 {
		metrics.CacheMisses.WithLabelValues("dem").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("dem").Inc()
	return body, true
}

func (c *Client) download(ctx context.Context, req ports.CoverageRequest, crs string) ([]byte, error) {
	u, err := c.requestURL(req, crs)
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	if c.cfg.InitialBackoff > 0 {
		b.InitialInterval = c.cfg.InitialBackoff
	}
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)

	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		var err error
		body, err = c.get(ctx, u)
		if err == nil {
			metrics.DEMDownloadAttempts.WithLabelValues("success").Inc()
			return nil
		}
		if !domain.IsRetryable(err) {
			metrics.DEMDownloadAttempts.WithLabelValues("failure").Inc()
			return backoff.Permanent(err)
		}
		metrics.DEMDownloadAttempts.WithLabelValues("retry").Inc()
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("WCS request failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}

	slog.Info("downloading DEM", "bbox", req.Padded.String(), "coverage", c.cfg.CoverageID)
	err = backoff.RetryNotify(op, policy, notify)
	trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrAttempt.Int(attempt))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &domain.AcquisitionError{Op: "GetCoverage", Err: ctx.Err()}
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &domain.AcquisitionError{Op: "GetCoverage", Err: err}
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &domain.AcquisitionError{Op: "GetCoverage", Retryable: ctx.Err() == nil, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &domain.AcquisitionError{Op: "GetCoverage", Retryable: true, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, &domain.AcquisitionError{
			Op:        "GetCoverage",
			Retryable: retryable,
			Err:       fmt.Errorf("status %d: %s", resp.StatusCode, snippet(body)),
		}
	}

	// Service exceptions arrive as XML with a 200 status.
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(ct, "xml") || bytes.HasPrefix(bytes.TrimSpace(body), []byte("<")) {
		return nil, &domain.AcquisitionError{
			Op:  "GetCoverage",
			Err: fmt.Errorf("service exception: %s", snippet(body)),
		}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &domain.CoverageError{Reason: domain.ErrEmptyCoverage, Detail: "empty response body"}
	}
	return body, nil
}

func (c *Client) requestURL(req ports.CoverageRequest, crs string) (string, error) {
	base, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse WCS url: %w", err)
	}
	b := req.Padded
	width := int((b.MaxLon() - b.MinLon()) / req.ResolutionDeg)
	height := int((b.MaxLat() - b.MinLat()) / req.ResolutionDeg)
	if width < 2 || height < 2 {
		return "", &domain.CoverageError{
			Reason:    domain.ErrResolutionMismatch,
			Requested: b.Bounds(),
			Detail:    fmt.Sprintf("area is only %dx%d cells at %v degrees", width, height, req.ResolutionDeg),
		}
	}

	q := base.Query()
	q.Set("service", "WCS")
	q.Set("version", "1.0.0")
	q.Set("request", "GetCoverage")
	q.Set("coverage", c.cfg.CoverageID)
	q.Set("bbox", fmt.Sprintf("%s,%s,%s,%s", ftoa(b.MinLon()), ftoa(b.MinLat()), ftoa(b.MaxLon()), ftoa(b.MaxLat())))
	q.Set("crs", crs)
	q.Set("format", c.cfg.Format)
	q.Set("width", strconv.Itoa(width))
	q.Set("height", strconv.Itoa(height))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// validate rejects coverage that is empty, at the wrong resolution, or that
// does not contain the scene area.
func (c *Client) validate(r *domain.ElevationRaster, req ports.CoverageRequest) (*domain.ElevationRaster, error) {
	r.Source = req.Padded
	rows, cols := r.Dims()
	if r.NoDataCount() == rows*cols {
		return nil, &domain.CoverageError{
			Reason:    domain.ErrEmptyCoverage,
			Requested: req.Area.Bounds(),
			Available: domain.BoundsOf(r.Extent()),
			Detail:    "every cell is no-data",
		}
	}
	if !geospatial.SameCRS(r.CRS, domain.CRSWGS84) {
		// Projected rasters are checked after reprojection.
		return r, nil
	}

	if dev := math.Abs(r.Transform.PixelWidth-req.ResolutionDeg) / req.ResolutionDeg; dev > resolutionTolerance {
		return nil, &domain.CoverageError{
			Reason:    domain.ErrResolutionMismatch,
			Requested: req.Area.Bounds(),
			Available: domain.BoundsOf(r.Extent()),
			Detail:    fmt.Sprintf("cell size %v, requested %v", r.Transform.PixelWidth, req.ResolutionDeg),
		}
	}
	if !containsBound(r, req.Area) {
		return nil, &domain.CoverageError{
			Reason:    domain.ErrIncompleteCoverage,
			Requested: req.Area.Bounds(),
			Available: domain.BoundsOf(r.Extent()),
		}
	}
	return r, nil
}

func containsBound(r *domain.ElevationRaster, area domain.BoundingBox) bool {
	e := r.Extent()
	return e.Min.X() <= area.MinLon() && e.Min.Y() <= area.MinLat() &&
		e.Max.X() >= area.MaxLon() && e.Max.Y() >= area.MaxLat()
}

func (c *Client) cacheKey(req ports.CoverageRequest, crs string) string {
	b := req.Padded
	raw := fmt.Sprintf("%s|%s|%s|%s,%s,%s,%s|%s|%s",
		c.cfg.URL, c.cfg.CoverageID, c.cfg.Format,
		ftoa(b.MinLon()), ftoa(b.MinLat()), ftoa(b.MaxLon()), ftoa(b.MaxLat()),
		ftoa(req.ResolutionDeg), crs)
	sum := md5.Sum([]byte(raw))
	return "dem:" + hex.EncodeToString(sum[:])
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}
