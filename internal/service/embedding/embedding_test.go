package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello world.", req.Input)
		assert.Equal(t, 4, req.Dimensions)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3, 0.4}}},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "test-key", "text-embedding-3-large", 4)
	vec, err := p.Embed(context.Background(), "hello world.")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, vec.Slice())
}

func TestOpenAIProviderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "bad key", "type": "invalid_request_error"},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "bad", "text-embedding-3-large", 4)
	_, err := p.Embed(context.Background(), "hello.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider(8)
	vec, err := p.Embed(context.Background(), "anything")
	require.NoError(t, err)
	assert.Len(t, vec.Slice(), 8)
	assert.Equal(t, 8, p.Dimensions())
}
