package overpass_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmap/terrascene/internal/adapters/overpass"
	"github.com/sigmap/terrascene/internal/core/domain"
)

func bbox(t *testing.T) domain.BoundingBox {
	t.Helper()
	b, err := domain.NewBoundingBox(11.106, 46.056, 11.153, 46.077)
	require.NoError(t, err)
	return b
}

func TestBuildQuery(t *testing.T) {
	q := overpass.BuildQuery(bbox(t), 25)
	assert.True(t, strings.HasPrefix(q, "[out:json][timeout:25];"))
	assert.Contains(t, q, `node["communication:mobile_phone"](46.056,11.106,46.077,11.153);`)
	assert.Contains(t, q, `way["tower:type"="communication"](46.056,11.106,46.077,11.153);`)
	assert.True(t, strings.HasSuffix(q, "out center;\n"))
}

const body = `{"elements":[
 {"type":"node","id":101,"lat":46.06,"lon":11.12,"tags":{"communication:mobile_phone":"yes","height":"30"}},
 {"type":"way","id":202,"center":{"lat":46.07,"lon":11.14},"tags":{"tower:type":"communication"}},
 {"type":"relation","id":303,"tags":{"tower:type":"communication"}}
]}`

func TestTelecomFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Contains(t, r.PostForm.Get("data"), "out center;")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	fs, err := overpass.NewClient(overpass.Config{URL: srv.URL, Timeout: 5 * time.Second}).TelecomFeatures(context.Background(), bbox(t))
	require.NoError(t, err)
	require.Len(t, fs, 3)

	assert.Equal(t, "101", fs[0].ID)
	assert.Equal(t, "node", fs[0].Type)
	assert.Equal(t, 46.06, *fs[0].Lat)
	assert.Equal(t, "30", fs[0].Tags["height"])

	assert.Equal(t, "way", fs[1].Type)
	assert.Equal(t, 11.14, *fs[1].Lon)

	assert.Nil(t, fs[2].Lat)
	assert.Nil(t, fs[2].Lon)
}

func TestTelecomFeaturesRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"elements":[]}`)
	}))
	defer srv.Close()

	fs, err := overpass.NewClient(overpass.Config{URL: srv.URL}).TelecomFeatures(context.Background(), bbox(t))
	require.NoError(t, err)
	assert.Empty(t, fs)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTelecomFeaturesBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "parse error", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := overpass.NewClient(overpass.Config{URL: srv.URL}).TelecomFeatures(context.Background(), bbox(t))
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
	assert.Contains(t, err.Error(), "parse error")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTelecomFeaturesMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"elements":[`)
	}))
	defer srv.Close()

	_, err := overpass.NewClient(overpass.Config{URL: srv.URL}).TelecomFeatures(context.Background(), bbox(t))
	require.Error(t, err)
	var acq *domain.AcquisitionError
	assert.ErrorAs(t, err, &acq)
}
