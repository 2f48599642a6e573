package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgchat/backend/internal/adapter"
	"kgchat/backend/internal/agent"
	"kgchat/backend/internal/kg"
	"kgchat/backend/internal/store"
)

type stubModel struct {
	reply string
	err   error
}

func (s stubModel) Complete(context.Context, string, string, []adapter.ChatMessage) (string, error) {
	return s.reply, s.err
}

// streamingStub streams chunks, then fails with err if set
type streamingStub struct {
	chunks []string
	err    error
}

func (s streamingStub) Complete(context.Context, string, string, []adapter.ChatMessage) (string, error) {
	return strings.Join(s.chunks, ""), s.err
}

func (s streamingStub) Stream(_ context.Context, _, _ string, _ []adapter.ChatMessage, onDelta func(string) error) (string, error) {
	for _, chunk := range s.chunks {
		if err := onDelta(chunk); err != nil {
			return "", err
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return strings.Join(s.chunks, ""), nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestRouter(model agent.ChatModel) *gin.Engine {
	gin.SetMode(gin.TestMode)
	manager := agent.NewManager(store.NewMemoryStore(), kg.NewEngine(), model)
	return NewRouter(manager, Options{MetricsEnabled: true})
}

func do(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(stubModel{reply: "ok"})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(stubModel{reply: "ok"})
	do(t, router, "POST", "/api/sessions/m1/chat", `{"message":"Alice met Bob"}`)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kg_checkpoints_total")
	assert.Contains(t, w.Body.String(), "kg_chat_turns_total")
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(agent.NewManager(store.NewMemoryStore(), kg.NewEngine(), stubModel{}), Options{})

	w, _ := do(t, router, "GET", "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatEndpoint(t *testing.T) {
	router := newTestRouter(stubModel{reply: "glad to hear it"})

	w, env := do(t, router, "POST", "/api/sessions/s1/chat", `{"message":"Alice met Bob","model":"picked"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	var data struct {
		SessionID    string `json:"sessionId"`
		Model        string `json:"model"`
		IsProcessing bool   `json:"isProcessing"`
		Messages     []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		KG      kg.KnowledgeGraph `json:"kg"`
		Context struct {
			Score float64 `json:"score"`
		} `json:"context"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "s1", data.SessionID)
	assert.Equal(t, "picked", data.Model)
	assert.False(t, data.IsProcessing)
	require.Len(t, data.Messages, 2)
	assert.Equal(t, "assistant", data.Messages[1].Role)
	assert.Equal(t, "glad to hear it", data.Messages[1].Content)
	assert.Equal(t, 1, data.KG.Entities["bob"].Version)
	assert.Len(t, data.KG.Relations, 1)
	assert.Equal(t, 0.0, data.Context.Score)
}

func TestChatEndpoint_InvalidRequest(t *testing.T) {
	router := newTestRouter(stubModel{reply: "ok"})

	tests := []struct {
		name string
		body string
	}{
		{"missing message", `{}`},
		{"blank message", `{"message":"   "}`},
		{"malformed json", `{"message":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, router, "POST", "/api/sessions/s1/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestChatEndpoint_LLMFailure(t *testing.T) {
	router := newTestRouter(stubModel{err: errors.New("gateway down")})

	w, env := do(t, router, "POST", "/api/sessions/s1/chat", `{"message":"hello"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to process message", env.Error)

	// the user message was kept and the session is not stuck processing
	_, env = do(t, router, "GET", "/api/sessions/s1/messages", "")
	var data struct {
		IsProcessing bool              `json:"isProcessing"`
		Messages     []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.False(t, data.IsProcessing)
	assert.Len(t, data.Messages, 1)
}

func TestChatEndpoint_Stream(t *testing.T) {
	router := newTestRouter(streamingStub{chunks: []string{"glad ", "to hear ", "it"}})

	w, _ := do(t, router, "POST", "/api/sessions/s1/chat", `{"message":"Alice met Bob","stream":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "glad to hear it", w.Body.String())
	assert.True(t, w.Flushed)

	_, env := do(t, router, "GET", "/api/sessions/s1/messages", "")
	var data struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
		KG kg.KnowledgeGraph `json:"kg"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Messages, 2)
	assert.Equal(t, "glad to hear it", data.Messages[1].Content)
	assert.Contains(t, data.KG.Entities, "alice")
}

func TestChatEndpoint_StreamWithoutStreamingModel(t *testing.T) {
	router := newTestRouter(stubModel{reply: "whole reply"})

	w, _ := do(t, router, "POST", "/api/sessions/s1/chat", `{"message":"hello","stream":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "whole reply", w.Body.String())
}

func TestChatEndpoint_StreamFailures(t *testing.T) {
	t.Run("before first chunk", func(t *testing.T) {
		router := newTestRouter(streamingStub{err: errors.New("gateway down")})

		w, env := do(t, router, "POST", "/api/sessions/s1/chat", `{"message":"hello","stream":true}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.False(t, env.Success)
		assert.Equal(t, "Failed to process message", env.Error)
	})

	t.Run("after first chunk", func(t *testing.T) {
		router := newTestRouter(streamingStub{chunks: []string{"partial"}, err: errors.New("connection reset")})

		w, _ := do(t, router, "POST", "/api/sessions/s1/chat", `{"message":"hello","stream":true}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "partial", w.Body.String())

		_, env := do(t, router, "GET", "/api/sessions/s1/messages", "")
		var data struct {
			IsProcessing bool              `json:"isProcessing"`
			Messages     []json.RawMessage `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.False(t, data.IsProcessing)
		assert.Len(t, data.Messages, 1)
	})

	t.Run("invalid message", func(t *testing.T) {
		router := newTestRouter(streamingStub{chunks: []string{"never"}})

		w, env := do(t, router, "POST", "/api/sessions/s1/chat", `{"message":"  ","stream":true}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, env.Success)
	})
}

func TestMessagesEndpoint_FreshSession(t *testing.T) {
	router := newTestRouter(stubModel{reply: "ok"})

	w, env := do(t, router, "GET", "/api/sessions/new-one/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"sessionId": "new-one",
		"messages": [],
		"isProcessing": false,
		"model": "gpt-4o-mini",
		"kg": {"entities": {}, "relations": []}
	}`, string(env.Data))
}

func TestKGAndContextEndpoints(t *testing.T) {
	router := newTestRouter(stubModel{reply: "ok"})
	do(t, router, "POST", "/api/sessions/s1/chat", `{"message":"Alice met Bob and Carol"}`)

	w, env := do(t, router, "GET", "/api/sessions/s1/kg", "")
	require.Equal(t, http.StatusOK, w.Code)
	var g kg.KnowledgeGraph
	require.NoError(t, json.Unmarshal(env.Data, &g))
	assert.Len(t, g.Entities, 3)
	assert.Len(t, g.Relations, 3)

	w, env = do(t, router, "GET", "/api/sessions/s1/context?q=carol&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var fused struct {
		Entities  []kg.Entity   `json:"entities"`
		Relations []kg.Relation `json:"relations"`
		Score     float64       `json:"score"`
		Seeds     []string      `json:"seeds"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &fused))
	assert.Len(t, fused.Entities, 2)
	assert.Len(t, fused.Relations, 2)
	assert.InDelta(t, 0.6, fused.Score, 1e-9)
	assert.Nil(t, fused.Seeds)

	w, env = do(t, router, "GET", "/api/sessions/s1/context?q=nothing", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"entities":[],"relations":[],"score":0.2}`, string(env.Data))
}

func TestContextEndpoint_InvalidRequest(t *testing.T) {
	router := newTestRouter(stubModel{reply: "ok"})

	for _, path := range []string{
		"/api/sessions/s1/context",
		"/api/sessions/s1/context?q=",
		"/api/sessions/s1/context?q=alice&limit=many",
	} {
		w, env := do(t, router, "GET", path, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.False(t, env.Success, path)
	}
}

func TestIngestEndpoint(t *testing.T) {
	router := newTestRouter(stubModel{reply: "ok"})
	do(t, router, "POST", "/api/sessions/s1/chat", `{"message":"Alice met Bob"}`)

	w, env := do(t, router, "POST", "/api/sessions/s1/ingest", "")
	require.Equal(t, http.StatusOK, w.Code)

	var g kg.KnowledgeGraph
	require.NoError(t, json.Unmarshal(env.Data, &g))
	assert.Equal(t, 2, g.Entities["alice"].Version)
	require.Len(t, g.Relations, 1)
	assert.Equal(t, 2, g.Relations[0].Mentions)
}

func TestClearEndpoint(t *testing.T) {
	router := newTestRouter(stubModel{reply: "ok"})
	do(t, router, "POST", "/api/sessions/s1/chat", `{"message":"Alice met Bob"}`)

	w, env := do(t, router, "DELETE", "/api/sessions/s1/clear", "")
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Messages []json.RawMessage `json:"messages"`
		KG       kg.KnowledgeGraph `json:"kg"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Empty(t, data.Messages)
	assert.True(t, data.KG.IsEmpty())
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	router := newTestRouter(stubModel{reply: "ok"})

	w, env := do(t, router, "POST", "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var created struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.NotEmpty(t, created.SessionID)

	w, env = do(t, router, "POST", "/api/sessions", `{"sessionId":"named","model":"m2"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"model":"m2"`)

	w, env = do(t, router, "DELETE", "/api/sessions/named", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":true}`, string(env.Data))

	_, env = do(t, router, "GET", "/api/sessions", "")
	var listed []agent.SessionSummary
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.SessionID, listed[0].SessionID)
}

func TestCreateSessionEndpoint_Title(t *testing.T) {
	router := newTestRouter(stubModel{reply: "ok"})

	_, env := do(t, router, "POST", "/api/sessions", `{"sessionId":"t1","title":"Trip notes","firstMessage":"ignored"}`)
	var created struct {
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "Trip notes", created.Title)

	_, env = do(t, router, "POST", "/api/sessions", `{"sessionId":"t2","firstMessage":"Tell me about Alice"}`)
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.True(t, strings.HasPrefix(created.Title, "Tell me about Alice • "), created.Title)

	_, env = do(t, router, "POST", "/api/sessions", `{"sessionId":"t3"}`)
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.True(t, strings.HasPrefix(created.Title, "New Session • "), created.Title)
}

func TestListAndStatsEndpoints(t *testing.T) {
	router := newTestRouter(stubModel{reply: "ok"})

	w, env := do(t, router, "GET", "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	w, env = do(t, router, "GET", "/api/sessions/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"totalSessions":0}`, string(env.Data))

	do(t, router, "POST", "/api/sessions", `{"sessionId":"a","title":"First"}`)
	do(t, router, "POST", "/api/sessions/b/chat", `{"message":"Alice met Bob"}`)

	w, env = do(t, router, "GET", "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed []agent.SessionSummary
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed, 2)
	// b has messages, so it is the most recently active
	assert.Equal(t, "b", listed[0].SessionID)
	assert.Equal(t, 2, listed[0].MessageCount)
	assert.Equal(t, 2, listed[0].EntityCount)
	assert.Equal(t, "a", listed[1].SessionID)
	assert.Equal(t, "First", listed[1].Title)

	_, env = do(t, router, "GET", "/api/sessions/stats", "")
	assert.JSONEq(t, `{"totalSessions":2}`, string(env.Data))
}

func TestUnknownRoute(t *testing.T) {
	router := newTestRouter(stubModel{reply: "ok"})

	w, env := do(t, router, "GET", "/api/sessions/s1/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(stubModel{reply: "ok"})

	w, _ := do(t, router, "OPTIONS", "/api/sessions/s1/chat", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
