package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), tt.delta)
		})
	}
}

func TestMetricDistance(t *testing.T) {
	assert.Equal(t, 25.0, MetricL2.Distance(Vector{0, 0}, Vector{3, 4}), "squared L2")
	assert.True(t, math.IsInf(MetricL2.Distance(Vector{1}, Vector{1, 2}), 1), "mismatched lengths are +Inf")
	assert.InDelta(t, 0, MetricCosine.Distance(Vector{1, 0}, Vector{1, 0}), 1e-9)
}

func TestParseMetric(t *testing.T) {
	for in, want := range map[string]Metric{"": MetricL2, "L2": MetricL2, "cosine": MetricCosine} {
		got, err := ParseMetric(in)
		require.NoError(t, err, "ParseMetric(%q)", in)
		assert.Equal(t, want, got, "ParseMetric(%q)", in)
	}
	_, err := ParseMetric("manhattan")
	assert.Error(t, err)
}

func TestNew_Disabled(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	assert.Nil(t, e, "no provider configured")
}

func TestNew_Unknown(t *testing.T) {
	_, err := New(Config{Provider: "bogus"})
	assert.Error(t, err)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)
		assert.Equal(t, "hello", req.Prompt)
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "all-minilm", 0)
	assert.Equal(t, 384, e.Dims(), "all-minilm dims")

	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, Vector{0.1, 0.2, 0.3}, v)
}

func TestOllamaEmbedderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(srv.URL, "", 0).Embed(context.Background(), "x")
	assert.Error(t, err, "non-200 response")
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[1,2]}],"model":"m"}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "k", "m", 2)
	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, Vector{1, 2}, v)
}
