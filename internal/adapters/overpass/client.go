// Package overpass fetches telecom features from an OpenStreetMap Overpass
// API endpoint.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// TelecomFilters are the tag selectors for telecom infrastructure.
var TelecomFilters = []string{
	`["communication:mobile_phone"]`,
	`["tower:type"="communication"]`,
}

// Config configures the Overpass client.
type Config struct {
	URL         string
	Timeout     time.Duration
	MaxAttempts int
}

// Client implements ports.FeatureSource.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates an Overpass client.
func NewClient(cfg Config) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type response struct {
	Elements []element `json:"elements"`
}

type element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat"`
	Lon    *float64          `json:"lon"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center"`
	Tags map[string]string `json:"tags"`
}

// TelecomFeatures returns nodes, ways and relations tagged as telecom
// infrastructure inside bbox. Ways and relations are located at their
// centre; features without any location are returned with nil coordinates.
func (c *Client) TelecomFeatures(ctx context.Context, bbox domain.BoundingBox) ([]domain.TelecomFeature, error) {
	query := BuildQuery(bbox, int(c.cfg.Timeout.Seconds()))

	var resp response
	op := func() error {
		return c.post(ctx, query, &resp)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxAttempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		slog.Warn("overpass request failed, retrying", "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}

	features := make([]domain.TelecomFeature, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		f := domain.TelecomFeature{
			ID:   strconv.FormatInt(el.ID, 10),
			Type: el.Type,
			Tags: el.Tags,
		}
		switch {
		case el.Lat != nil && el.Lon != nil:
			f.Lat, f.Lon = el.Lat, el.Lon
		case el.Center != nil:
			lat, lon := el.Center.Lat, el.Center.Lon
			f.Lat, f.Lon = &lat, &lon
		}
		features = append(features, f)
	}
	slog.Info("telecom features fetched", "count", len(features), "bbox", bbox.String())
	return features, nil
}

// BuildQuery renders the Overpass QL query for bbox.
func BuildQuery(bbox domain.BoundingBox, timeoutSec int) string {
	if timeoutSec <= 0 {
		timeoutSec = 25
	}
	area := fmt.Sprintf("(%s,%s,%s,%s)",
		ftoa(bbox.MinLat()), ftoa(bbox.MinLon()), ftoa(bbox.MaxLat()), ftoa(bbox.MaxLon()))
	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n(\n", timeoutSec)
	for _, f := range TelecomFilters {
		for _, kind := range []string{"node", "way", "relation"} {
			fmt.Fprintf(&b, "  %s%s%s;\n", kind, f, area)
		}
	}
	b.WriteString(");\nout center;\n")
	return b.String()
}

func (c *Client) post(ctx context.Context, query string, out *response) error {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return backoff.Permanent(&domain.AcquisitionError{Op: "overpass", Err: err})
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(&domain.AcquisitionError{Op: "overpass", Err: ctx.Err()})
		}
		return &domain.AcquisitionError{Op: "overpass", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		acq := &domain.AcquisitionError{
			Op:        "overpass",
			Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:       fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
		if !acq.Retryable {
			return backoff.Permanent(acq)
		}
		return acq
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return backoff.Permanent(&domain.AcquisitionError{Op: "overpass", Err: fmt.Errorf("decode: %w", err)})
	}
	*out = decoded
	return nil
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
