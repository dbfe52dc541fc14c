// Package ditto provisions transmitters as things in an Eclipse Ditto
// digital twin registry.
package ditto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/usecases"
)

// Config configures the Ditto client. URL is the API root, for example
// http://localhost:8080/api/2.
type Config struct {
	URL         string
	Username    string
	Password    string
	Namespace   string
	PolicyID    string
	Timeout     time.Duration
	MaxAttempts int
}

// Client implements ports.TransmitterRegistry.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a Ditto client.
func NewClient(cfg Config) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "com.sionna"
	}
	if cfg.PolicyID == "" {
		cfg.PolicyID = cfg.Namespace + ":policy"
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type thing struct {
	usecases.DittoThing
	PolicyID string `json:"policyId"`
}

// Provision replaces the namespace's things with one thing per transmitter.
// The policy is written first and stale things are deleted before the new
// ones are created. A thing that cannot be created is logged and counted;
// the returned error reports how many failed.
func (c *Client) Provision(ctx context.Context, txs []domain.Transmitter) error {
	if err := c.putPolicy(ctx); err != nil {
		return err
	}
	if err := c.clearNamespace(ctx); err != nil {
		return err
	}

	failed := 0
	for _, tx := range txs {
		t := thing{DittoThing: usecases.ToDitto(tx), PolicyID: c.cfg.PolicyID}
		t.ThingID = c.cfg.Namespace + ":" + tx.ID
		if err := c.do(ctx, http.MethodPut, "/things/"+url.PathEscape(t.ThingID), t, nil); err != nil {
			slog.Warn("ditto thing not created", "thing_id", t.ThingID, "error", err)
			failed++
		}
	}
	slog.Info("ditto things provisioned", "created", len(txs)-failed, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("ditto: %d of %d things not created", failed, len(txs))
	}
	return nil
}

func (c *Client) putPolicy(ctx context.Context) error {
	policy := map[string]any{
		"entries": map[string]any{
			"owner": map[string]any{
				"subjects": map[string]any{
					"nginx:" + c.cfg.Username: map[string]any{"type": "basic auth user"},
				},
				"resources": map[string]any{
					"thing:/":   map[string]any{"grant": []string{"READ", "WRITE"}, "revoke": []string{}},
					"policy:/":  map[string]any{"grant": []string{"READ", "WRITE"}, "revoke": []string{}},
					"message:/": map[string]any{"grant": []string{"READ", "WRITE"}, "revoke": []string{}},
				},
			},
		},
	}
	if err := c.do(ctx, http.MethodPut, "/policies/"+url.PathEscape(c.cfg.PolicyID), policy, nil); err != nil {
		return fmt.Errorf("ditto policy: %w", err)
	}
	return nil
}

func (c *Client) clearNamespace(ctx context.Context) error {
	q := url.Values{
		"filter": {fmt.Sprintf(`like(thingId,"%s:*")`, c.cfg.Namespace)},
		"fields": {"thingId"},
	}
	var found struct {
		Items []struct {
			ThingID string `json:"thingId"`
		} `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/search/things?"+q.Encode(), nil, &found); err != nil {
		return fmt.Errorf("ditto search: %w", err)
	}
	for _, it := range found.Items {
		if err := c.do(ctx, http.MethodDelete, "/things/"+url.PathEscape(it.ThingID), nil, nil); err != nil {
			return fmt.Errorf("ditto delete %s: %w", it.ThingID, err)
		}
	}
	if len(found.Items) > 0 {
		slog.Info("ditto namespace cleared", "namespace", c.cfg.Namespace, "deleted", len(found.Items))
	}
	return nil
}

// do sends one request with retries on transport errors, 429 and 5xx.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return err
		}
	}

	op := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode: %w", err))
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	notify := func(err error, wait time.Duration) {
		slog.Warn("ditto request failed, retrying", "method", method, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx), notify)
}
