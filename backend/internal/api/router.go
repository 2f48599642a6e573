package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kgchat/backend/internal/agent"
	"kgchat/backend/internal/kg"
	"kgchat/backend/internal/state"
	apperrors "kgchat/backend/pkg/errors"
)

// Sessions is the session layer the handlers drive
type Sessions interface {
	Chat(ctx context.Context, sessionID, message, model string) (*agent.TurnResult, error)
	ChatStream(ctx context.Context, sessionID, message, model string, onDelta func(string) error) (*agent.TurnResult, error)
	Ingest(ctx context.Context, sessionID string) (kg.KnowledgeGraph, error)
	Clear(ctx context.Context, sessionID string) (state.ChatState, error)
	Create(ctx context.Context, sessionID string, opts agent.CreateOptions) (state.ChatState, error)
	Delete(ctx context.Context, sessionID string) error
	Sessions(ctx context.Context) ([]agent.SessionSummary, error)
	Stats(ctx context.Context) (agent.SessionStats, error)
	State(ctx context.Context, sessionID string) (state.ChatState, error)
	Graph(ctx context.Context, sessionID string) (kg.KnowledgeGraph, error)
	Context(ctx context.Context, sessionID, query string, limit int) (kg.FusedContext, error)
}

// Options configures the router
type Options struct {
	MetricsEnabled bool
	Logger         *zap.Logger
}

// chatResponse is the session state plus the context the reply was generated with
type chatResponse struct {
	state.ChatState
	Context kg.FusedContext `json:"context"`
}

type handler struct {
	sessions Sessions
	log      *zap.Logger
}

// NewRouter builds the HTTP API
func NewRouter(sessions Sessions, opts Options) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{sessions: sessions, log: log}

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(cors())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/sessions")
	{
		api.GET("", h.listSessions)
		api.GET("/stats", h.stats)
		api.POST("", h.createSession)
		api.DELETE("/:id", h.deleteSession)

		api.GET("/:id/messages", h.getMessages)
		api.POST("/:id/chat", h.chat)
		api.DELETE("/:id/clear", h.clear)
		api.POST("/:id/ingest", h.ingest)
		api.GET("/:id/kg", h.graph)
		api.GET("/:id/context", h.queryContext)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not found"})
	})

	return router
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// fail answers with the status the error maps to; server-side failures get a generic message
func (h *handler) fail(c *gin.Context, err error, publicMsg string) {
	status := apperrors.HTTPStatus(err)
	msg := publicMsg
	if status < http.StatusInternalServerError {
		msg = err.Error()
		var invalid *apperrors.ErrInvalidMessage
		if errors.As(err, &invalid) {
			msg = invalid.Message
		}
	} else {
		h.log.Error(publicMsg,
			zap.String("session_id", c.Param("id")),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func (h *handler) createSession(c *gin.Context) {
	var req struct {
		SessionID    string `json:"sessionId"`
		Model        string `json:"model"`
		Title        string `json:"title"`
		FirstMessage string `json:"firstMessage"`
	}
	// an empty body is allowed
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, apperrors.NewInvalidMessage("body", err.Error()), "")
			return
		}
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	st, err := h.sessions.Create(c.Request.Context(), sessionID, agent.CreateOptions{
		Model:        req.Model,
		Title:        req.Title,
		FirstMessage: req.FirstMessage,
	})
	if err != nil {
		h.fail(c, err, "Failed to create session")
		return
	}
	ok(c, st)
}

func (h *handler) listSessions(c *gin.Context) {
	sessions, err := h.sessions.Sessions(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to list sessions")
		return
	}
	ok(c, sessions)
}

func (h *handler) stats(c *gin.Context) {
	stats, err := h.sessions.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to get stats")
		return
	}
	ok(c, stats)
}

func (h *handler) deleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err, "Failed to delete session")
		return
	}
	ok(c, gin.H{"deleted": true})
}

func (h *handler) getMessages(c *gin.Context) {
	st, err := h.sessions.State(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to load session")
		return
	}
	ok(c, st)
}

func (h *handler) chat(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
		Model   string `json:"model"`
		Stream  bool   `json:"stream"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.NewInvalidMessage("body", err.Error()), "")
		return
	}
	if req.Stream {
		h.chatStream(c, req.Message, req.Model)
		return
	}

	result, err := h.sessions.Chat(c.Request.Context(), c.Param("id"), req.Message, req.Model)
	if err != nil {
		h.fail(c, err, "Failed to process message")
		return
	}
	ok(c, chatResponse{ChatState: result.State, Context: result.Context})
}

// chatStream writes the reply as plain text while it is generated. Failures
// before the first fragment get the usual JSON error; later ones can only end the body.
func (h *handler) chatStream(c *gin.Context, message, model string) {
	sessionID := c.Param("id")
	started := false

	_, err := h.sessions.ChatStream(c.Request.Context(), sessionID, message, model, func(delta string) error {
		if !started {
			c.Header("Content-Type", "text/plain; charset=utf-8")
			c.Header("Cache-Control", "no-cache")
			c.Header("X-Content-Type-Options", "nosniff")
			c.Status(http.StatusOK)
			started = true
		}
		if _, err := c.Writer.WriteString(delta); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if err == nil {
		return
	}
	if !started {
		h.fail(c, err, "Failed to process message")
		return
	}
	h.log.Error("Chat stream interrupted",
		zap.String("session_id", sessionID),
		zap.Error(err),
	)
}

func (h *handler) clear(c *gin.Context) {
	st, err := h.sessions.Clear(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to clear session")
		return
	}
	ok(c, st)
}

func (h *handler) ingest(c *gin.Context) {
	g, err := h.sessions.Ingest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to ingest session")
		return
	}
	ok(c, g)
}

func (h *handler) graph(c *gin.Context) {
	g, err := h.sessions.Graph(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to load knowledge graph")
		return
	}
	ok(c, g)
}

func (h *handler) queryContext(c *gin.Context) {
	query, present := c.GetQuery("q")
	if !present || strings.TrimSpace(query) == "" {
		h.fail(c, apperrors.NewInvalidMessage("q", "query is required"), "")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(c, apperrors.NewInvalidMessage("limit", "must be an integer"), "")
			return
		}
		limit = n
	}

	fused, err := h.sessions.Context(c.Request.Context(), c.Param("id"), query, limit)
	if err != nil {
		h.fail(c, err, "Failed to query knowledge graph")
		return
	}
	ok(c, fused)
}
