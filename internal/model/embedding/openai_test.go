package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_EmbedStrings(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "nomic", body["model"])
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/v1/", "k", "nomic", time.Second, 0)
	vecs, err := c.EmbedStrings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vecs[0])
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	dim, err := c.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, dim)
	_, _ = c.Dimension(context.Background())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "dimension is detected once")
}

func TestOpenAIClient_ConfiguredDimensionSkipsDetection(t *testing.T) {
	c := NewOpenAIClient("http://127.0.0.1:1", "k", "m", time.Second, 768)
	dim, err := c.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 768, dim)
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", "m", time.Second, 0)
	_, err := c.EmbedStrings(context.Background(), []string{"a"})
	assert.Error(t, err)
}
