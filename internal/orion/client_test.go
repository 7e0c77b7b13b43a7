package orion_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekazari/intelligence/internal/orion"
	"github.com/nekazari/intelligence/pkg/models"
)

const testContextURL = "https://nekazari.artotxiki.com/ngsi-ld-context.json"

func testParams(generatedAt time.Time) orion.PredictionParams {
	return orion.PredictionParams{
		TenantID:  "tenant-a",
		EntityID:  "urn:ngsi-ld:AgriSensor:sensor-123",
		Attribute: "soilMoisture",
		Points: []models.ForecastPoint{
			{Timestamp: generatedAt.Add(time.Hour), Value: 41.2},
			{Timestamp: generatedAt.Add(2 * time.Hour), Value: 40.8},
		},
		Confidence:  0.82,
		Model:       "simple_predictor",
		GeneratedAt: generatedAt,
	}
}

// recorder captures every request the client sends, body included.
type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	method string
	path   string
	header http.Header
	body   map[string]any
}

func (r *recorder) record(req *http.Request) {
	var body map[string]any
	if req.Body != nil {
		_ = json.NewDecoder(req.Body).Decode(&body)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, recordedRequest{
		method: req.Method,
		path:   req.URL.Path,
		header: req.Header.Clone(),
		body:   body,
	})
}

func (r *recorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.requests...)
}

func TestPredictionEntityID(t *testing.T) {
	id := orion.PredictionEntityID("tenant-a", "urn:ngsi-ld:AgriSensor:sensor-123", "soilMoisture")
	assert.Equal(t, "urn:ngsi-ld:Prediction:tenant-a:sensor-123-soilMoisture", id)

	// Plain (non-URN) entity ids keep their full name as the suffix.
	id = orion.PredictionEntityID("tenant-a", "greenhouse-4", "temperature")
	assert.Equal(t, "urn:ngsi-ld:Prediction:tenant-a:greenhouse-4-temperature", id)
}

func TestPublish_CreatesEntity(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := orion.NewClient(srv.URL, testContextURL, 5*time.Second, 2)
	err := client.Publish(context.Background(), testParams(time.Now().UTC()))
	require.NoError(t, err)

	reqs := rec.all()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/ngsi-ld/v1/entities", req.path)

	assert.Equal(t, "tenant-a", req.header.Get("Fiware-Service"))
	assert.Equal(t, "/", req.header.Get("Fiware-ServicePath"))
	assert.Equal(t, "application/ld+json", req.header.Get("Content-Type"))
	assert.Contains(t, req.header.Get("Link"), testContextURL)

	assert.Equal(t, "urn:ngsi-ld:Prediction:tenant-a:sensor-123-soilMoisture", req.body["id"])
	assert.Equal(t, "Prediction", req.body["type"])
	ref, ok := req.body["refEntity"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "urn:ngsi-ld:AgriSensor:sensor-123", ref["object"])
}

func TestPublish_ConflictUpdatesExisting(t *testing.T) {
	generatedAt := time.Now().UTC()
	stored := generatedAt.Add(-time.Hour)

	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/ld+json")
			fmt.Fprintf(w, `{"id":"urn:ngsi-ld:Prediction:tenant-a:sensor-123-soilMoisture",
				"generatedAt":{"type":"Property","value":{"@type":"DateTime","@value":%q}}}`,
				stored.Format(time.RFC3339Nano))
		case http.MethodPatch:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	client := orion.NewClient(srv.URL, testContextURL, 5*time.Second, 2)
	err := client.Publish(context.Background(), testParams(generatedAt))
	require.NoError(t, err)

	reqs := rec.all()
	require.Len(t, reqs, 3)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, http.MethodGet, reqs[1].method)
	assert.Equal(t, http.MethodPatch, reqs[2].method)
	assert.Equal(t, "/ngsi-ld/v1/entities/urn:ngsi-ld:Prediction:tenant-a:sensor-123-soilMoisture/attrs",
		reqs[2].path)

	// The PATCH body is attribute-only: no id, no type.
	assert.NotContains(t, reqs[2].body, "id")
	assert.Contains(t, reqs[2].body, "predictions")
	assert.Contains(t, reqs[2].body, "generatedAt")
}

func TestPublish_StaleRepublishIsNoOp(t *testing.T) {
	generatedAt := time.Now().UTC()
	stored := generatedAt.Add(time.Hour) // broker already holds a newer forecast

	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
		case http.MethodGet:
			fmt.Fprintf(w, `{"id":"x","generatedAt":{"type":"Property","value":{"@type":"DateTime","@value":%q}}}`,
				stored.Format(time.RFC3339Nano))
		case http.MethodPatch:
			t.Error("stale republish must not PATCH")
		}
	}))
	defer srv.Close()

	client := orion.NewClient(srv.URL, testContextURL, 5*time.Second, 2)
	err := client.Publish(context.Background(), testParams(generatedAt))
	require.NoError(t, err)

	for _, req := range rec.all() {
		assert.NotEqual(t, http.MethodPatch, req.method)
	}
}

func TestPublish_EntityGoneBetweenConflictAndFetch(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPatch:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	client := orion.NewClient(srv.URL, testContextURL, 5*time.Second, 2)
	err := client.Publish(context.Background(), testParams(time.Now().UTC()))
	require.NoError(t, err)

	reqs := rec.all()
	require.Len(t, reqs, 3)
	assert.Equal(t, http.MethodPatch, reqs[2].method)
}

func TestPublish_ClientErrorIsNotRetried(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := orion.NewClient(srv.URL, testContextURL, 5*time.Second, 5)
	err := client.Publish(context.Background(), testParams(time.Now().UTC()))
	require.Error(t, err)
	assert.ErrorIs(t, err, orion.ErrBrokerWrite)

	assert.Len(t, rec.all(), 1)
}

func TestPublish_ServerErrorRetriedUntilSuccess(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		if len(rec.all()) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := orion.NewClient(srv.URL, testContextURL, 5*time.Second, 3)
	err := client.Publish(context.Background(), testParams(time.Now().UTC()))
	require.NoError(t, err)

	assert.Len(t, rec.all(), 2)
}

func TestPublish_RetriesExhausted(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := orion.NewClient(srv.URL, testContextURL, 5*time.Second, 2)
	err := client.Publish(context.Background(), testParams(time.Now().UTC()))
	require.Error(t, err)
	assert.ErrorIs(t, err, orion.ErrBrokerWrite)

	// Initial attempt plus two retries.
	assert.Len(t, rec.all(), 3)
}
