package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archive-ai/orchestrator/internal/config"
)

func TestHTTPEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embedResponse{}
		for range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: []float32{0.1, 0.2, 0.3}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := New(config.EmbeddingConfig{BaseURL: srv.URL, Model: "local-embedder", Dimensions: 3})
	out, err := e.Embed(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, out[0])
}

func TestHTTPEmbedder_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{0.1, 0.2}}}})
	}))
	defer srv.Close()

	e := New(config.EmbeddingConfig{BaseURL: srv.URL, Dimensions: 384})
	_, err := e.Embed(context.Background(), []string{"hi"})
	require.Error(t, err)
}

func TestCheckReachability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{0.1}}}})
	}))
	defer srv.Close()

	e := New(config.EmbeddingConfig{BaseURL: srv.URL, Dimensions: 1})
	require.NoError(t, CheckReachability(context.Background(), e))
}
