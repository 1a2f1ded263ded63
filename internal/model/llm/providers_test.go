package llm

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

func TestClaudeClient_ChatWithContext(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Paris "},{"type":"text","text":"[1]"}]}`))
	}))
	defer srv.Close()

	c, err := NewClaudeClient("claude-x", "k", srv.URL+"/v1", time.Second)
	require.NoError(t, err)
	out, err := c.ChatWithContext(context.Background(),
		[]Message{SystemMessage("sys"), UserMessage("q")},
		GenerateOptions{Temperature: 0.1, Stop: []string{"\n\n"}})
	require.NoError(t, err)
	assert.Equal(t, "Paris [1]", out)
	assert.Equal(t, "sys", body["system"])
	assert.Equal(t, float64(claudeDefaultMaxTokens), body["max_tokens"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1, "system message is lifted out of messages")
	assert.Equal(t, "claude", c.Provider())
}

func TestGeminiClient_ChatWithContext(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-x:generateContent", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient("gemini-x", "k", srv.URL, time.Second)
	require.NoError(t, err)
	out, err := c.ChatWithContext(context.Background(),
		[]Message{SystemMessage("sys"), UserMessage("q"), {Role: "assistant", Content: "a"}},
		GenerateOptions{MaxTokens: 32})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	contents := body["contents"].([]any)
	require.Len(t, contents, 2)
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
	assert.NotNil(t, body["systemInstruction"])
	gen := body["generationConfig"].(map[string]any)
	assert.Equal(t, float64(32), gen["maxOutputTokens"])
}

func TestGeminiClient_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient("g", "k", srv.URL, time.Second)
	require.NoError(t, err)
	_, err = c.ChatWithContext(context.Background(), []Message{UserMessage("q")}, GenerateOptions{})
	assert.Error(t, err)
}

func TestNewClient_Providers(t *testing.T) {
	for provider, want := range map[string]string{"": "openai", "openai": "openai", "claude": "claude", "gemini": "gemini"} {
		c, err := NewClient(provider, "m", "k", "http://localhost", time.Second)
		require.NoError(t, err, provider)
		assert.Equal(t, want, c.Provider(), provider)
	}
}
