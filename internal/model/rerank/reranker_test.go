package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPReranker_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		var body struct {
			Query string   `json:"query"`
			Texts []string `json:"texts"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "q", body.Query)
		assert.Len(t, body.Texts, 3)
		// 端点按分数排序返回
		_, _ = w.Write([]byte(`[{"index":2,"score":0.9},{"index":0,"score":0.5},{"index":1,"score":0.1}]`))
	}))
	defer srv.Close()

	r := NewHTTPReranker("bge", srv.URL+"/", "", time.Second)
	require.NotNil(t, r)
	scores, err := r.Score(context.Background(), "q", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.1, 0.9}, scores)
	assert.Equal(t, "bge", r.Name())
}

func TestHTTPReranker_MissingIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"index":0,"score":0.5}]`))
	}))
	defer srv.Close()

	r := NewHTTPReranker("bge", srv.URL, "", time.Second)
	_, err := r.Score(context.Background(), "q", []string{"a", "b"})
	assert.Error(t, err)
}

func TestNewHTTPReranker_Unconfigured(t *testing.T) {
	assert.Nil(t, NewHTTPReranker("", "http://x", "", 0))
	assert.Nil(t, NewHTTPReranker("m", "", "", 0))
}
