package agent

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"kgchat/backend/internal/adapter"
	"kgchat/backend/internal/kg"
	"kgchat/backend/internal/metrics"
	"kgchat/backend/internal/state"
	"kgchat/backend/internal/store"
	apperrors "kgchat/backend/pkg/errors"
	"kgchat/backend/pkg/logger"
)

// ChatModel produces the assistant reply for a conversation
type ChatModel interface {
	Complete(ctx context.Context, model, systemPrompt string, history []adapter.ChatMessage) (string, error)
}

// StreamingChatModel is a ChatModel that can also deliver the reply as it is generated.
// onDelta receives each non-empty fragment in order; Stream returns the full reply.
type StreamingChatModel interface {
	ChatModel
	Stream(ctx context.Context, model, systemPrompt string, history []adapter.ChatMessage, onDelta func(string) error) (string, error)
}

// TurnResult is the outcome of one chat turn
type TurnResult struct {
	State   state.ChatState
	Context kg.FusedContext
}

// Manager owns the chat sessions: it runs turns against the model, checkpoints
// every turn into the session's knowledge graph and persists the result.
// Operations on the same session are serialized; different sessions run in parallel.
type Manager struct {
	store        store.Store
	engine       *kg.Engine
	llm          ChatModel
	defaultModel string
	contextLimit int
	now          func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock

	logger *zap.Logger
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithDefaultModel sets the model new sessions start with
func WithDefaultModel(model string) ManagerOption {
	return func(m *Manager) {
		if model != "" {
			m.defaultModel = model
		}
	}
}

// WithContextLimit sets the fused-context size used for prompts and for queries that pass no limit
func WithContextLimit(limit int) ManagerOption {
	return func(m *Manager) {
		if limit > 0 {
			m.contextLimit = limit
		}
	}
}

// WithNow overrides the wall clock used for message and checkpoint timestamps
func WithNow(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a session manager
func NewManager(s store.Store, engine *kg.Engine, llm ChatModel, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:        s,
		engine:       engine,
		llm:          llm,
		defaultModel: state.DefaultModel,
		contextLimit: kg.DefaultLimit,
		now:          time.Now,
		locks:        make(map[string]*sessionLock),
		logger:       logger.Get(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the per-session mutex and returns its release func.
// Entries live only while some caller holds or waits on them.
func (m *Manager) lock(sessionID string) func() {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.mu.Unlock()
	}
}

// load returns the stored state, or a fresh one for an unknown session with stored set to false
func (m *Manager) load(ctx context.Context, sessionID string) (st state.ChatState, stored bool, err error) {
	st, err = m.store.Load(ctx, sessionID)
	var notFound *apperrors.ErrSessionNotFound
	if errors.As(err, &notFound) {
		return state.NewChatState(sessionID, m.defaultModel), false, nil
	}
	if err != nil {
		return state.ChatState{}, false, err
	}
	if st.Model == "" {
		st.Model = m.defaultModel
	}
	return st, true, nil
}

// refreshSessionCount sets the active sessions gauge from the store
func (m *Manager) refreshSessionCount(ctx context.Context) {
	ids, err := m.store.List(ctx)
	if err != nil {
		m.logger.Warn("Failed to count sessions", zap.Error(err))
		return
	}
	metrics.ActiveSessions.Set(float64(len(ids)))
}

func validateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return apperrors.NewInvalidMessage("session id", "cannot be empty")
	}
	return nil
}

// Chat runs one turn: the reply is generated with the graph context for message,
// then message and reply are checkpointed into the graph. An empty model keeps
// the session's current model.
func (m *Manager) Chat(ctx context.Context, sessionID, message, model string) (*TurnResult, error) {
	return m.turn(ctx, sessionID, message, model, nil)
}

// ChatStream runs a turn like Chat and passes the reply to onDelta as it arrives.
// Models that cannot stream deliver the whole reply as a single fragment.
// An error from onDelta aborts the turn.
func (m *Manager) ChatStream(ctx context.Context, sessionID, message, model string, onDelta func(string) error) (*TurnResult, error) {
	if onDelta == nil {
		onDelta = func(string) error { return nil }
	}
	return m.turn(ctx, sessionID, message, model, onDelta)
}

func (m *Manager) turn(ctx context.Context, sessionID, message, model string, onDelta func(string) error) (*TurnResult, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperrors.NewInvalidMessage("message", "cannot be empty")
	}

	unlock := m.lock(sessionID)
	defer unlock()

	st, stored, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if model != "" && model != st.Model {
		m.logger.Info("Session model changed",
			zap.String("session_id", sessionID),
			zap.String("from", st.Model),
			zap.String("to", model),
		)
		st.Model = model
	}
	if st.Title == "" {
		st.Title = SessionTitle("", message, m.now())
	}

	st.Messages = append(st.Messages, state.NewMessage(state.RoleUser, message, m.now()))
	st.IsProcessing = true
	if err := m.store.Save(ctx, st); err != nil {
		metrics.ChatTurns.WithLabelValues("store_error").Inc()
		return nil, err
	}
	if !stored {
		m.refreshSessionCount(ctx)
	}

	fused := m.engine.Query(message, st.KG, m.contextLimit)
	prompt := buildSystemPrompt(fused)

	reply, err := m.generate(ctx, st.Model, prompt, history(st.Messages), onDelta)
	if err != nil {
		metrics.ChatTurns.WithLabelValues("llm_error").Inc()
		m.logger.Error("Chat turn failed",
			zap.String("session_id", sessionID),
			zap.String("model", st.Model),
			zap.Error(err),
		)

		st.IsProcessing = false
		// keep the user message, drop only the processing flag; ctx may already be done
		if saveErr := m.store.Save(context.WithoutCancel(ctx), st); saveErr != nil {
			m.logger.Error("Failed to reset processing flag",
				zap.String("session_id", sessionID),
				zap.Error(saveErr),
			)
		}
		if apperrors.IsErrorType(err, apperrors.ErrorTypeAgent) || apperrors.IsErrorType(err, apperrors.ErrorTypeContext) {
			return nil, err
		}
		return nil, apperrors.NewAgentLLMFailed(st.Model, 1, false, err)
	}

	now := m.now()
	st.Messages = append(st.Messages, state.NewMessage(state.RoleAssistant, reply, now))
	st.KG, _ = m.engine.IngestAt(message+" "+reply, sessionID, now.UnixMilli(), st.KG)
	st.IsProcessing = false

	if err := m.store.Save(ctx, st); err != nil {
		metrics.ChatTurns.WithLabelValues("store_error").Inc()
		return nil, err
	}
	metrics.ChatTurns.WithLabelValues("ok").Inc()

	m.logger.Debug("Chat turn completed",
		zap.String("session_id", sessionID),
		zap.Int("messages", len(st.Messages)),
		zap.Int("entities", len(st.KG.Entities)),
		zap.Float64("context_score", fused.Score),
		zap.Bool("streamed", onDelta != nil),
	)

	return &TurnResult{State: st, Context: fused}, nil
}

// generate asks the model for a reply, streaming it to onDelta when one is given
func (m *Manager) generate(ctx context.Context, model, prompt string, msgs []adapter.ChatMessage, onDelta func(string) error) (string, error) {
	if onDelta == nil {
		return m.llm.Complete(ctx, model, prompt, msgs)
	}
	if streamer, ok := m.llm.(StreamingChatModel); ok {
		return streamer.Stream(ctx, model, prompt, msgs, onDelta)
	}

	reply, err := m.llm.Complete(ctx, model, prompt, msgs)
	if err != nil {
		return "", err
	}
	if err := onDelta(reply); err != nil {
		return "", err
	}
	return reply, nil
}

// Ingest checkpoints the whole transcript, one message per line, into the session graph
func (m *Manager) Ingest(ctx context.Context, sessionID string) (kg.KnowledgeGraph, error) {
	if err := validateSessionID(sessionID); err != nil {
		return kg.KnowledgeGraph{}, err
	}

	unlock := m.lock(sessionID)
	defer unlock()

	st, stored, err := m.load(ctx, sessionID)
	if err != nil {
		return kg.KnowledgeGraph{}, err
	}

	st.KG, _ = m.engine.IngestAt(st.Transcript(), sessionID, m.now().UnixMilli(), st.KG)
	if err := m.store.Save(ctx, st); err != nil {
		return kg.KnowledgeGraph{}, err
	}
	if !stored {
		m.refreshSessionCount(ctx)
	}
	return st.KG, nil
}

// Clear empties the transcript and the graph, keeping the session id and model
func (m *Manager) Clear(ctx context.Context, sessionID string) (state.ChatState, error) {
	if err := validateSessionID(sessionID); err != nil {
		return state.ChatState{}, err
	}

	unlock := m.lock(sessionID)
	defer unlock()

	st, stored, err := m.load(ctx, sessionID)
	if err != nil {
		return state.ChatState{}, err
	}

	st.Messages = []state.Message{}
	st.KG = kg.NewKnowledgeGraph()
	st.IsProcessing = false
	if err := m.store.Save(ctx, st); err != nil {
		return state.ChatState{}, err
	}
	if !stored {
		m.refreshSessionCount(ctx)
	}

	m.logger.Info("Session cleared", zap.String("session_id", sessionID))
	return st, nil
}

// CreateOptions describe a new session. Empty fields keep the defaults.
type CreateOptions struct {
	Model        string
	Title        string
	FirstMessage string
}

// Create initializes and persists a session. Title wins over FirstMessage when
// naming it; an existing session keeps its title unless a new one is given.
func (m *Manager) Create(ctx context.Context, sessionID string, opts CreateOptions) (state.ChatState, error) {
	if err := validateSessionID(sessionID); err != nil {
		return state.ChatState{}, err
	}

	unlock := m.lock(sessionID)
	defer unlock()

	st, stored, err := m.load(ctx, sessionID)
	if err != nil {
		return state.ChatState{}, err
	}
	if opts.Model != "" {
		st.Model = opts.Model
	}
	if title := strings.TrimSpace(opts.Title); title != "" || st.Title == "" {
		st.Title = SessionTitle(title, opts.FirstMessage, m.now())
	}
	if err := m.store.Save(ctx, st); err != nil {
		return state.ChatState{}, err
	}
	if !stored {
		m.refreshSessionCount(ctx)
		m.logger.Info("Session created",
			zap.String("session_id", sessionID),
			zap.String("title", st.Title),
		)
	}
	return st, nil
}

// Delete removes a session from the store
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	unlock := m.lock(sessionID)
	defer unlock()

	if err := m.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	m.refreshSessionCount(ctx)
	m.logger.Info("Session deleted", zap.String("session_id", sessionID))
	return nil
}

// SessionSummary is the listing view of a stored session
type SessionSummary struct {
	SessionID    string `json:"sessionId"`
	Title        string `json:"title"`
	Model        string `json:"model"`
	MessageCount int    `json:"messageCount"`
	EntityCount  int    `json:"entityCount"`
	LastActive   int64  `json:"lastActive"` // Unix milliseconds of the newest message, 0 when empty
}

// SessionStats aggregates over every stored session
type SessionStats struct {
	TotalSessions int `json:"totalSessions"`
}

// Sessions lists every stored session, most recently active first
func (m *Manager) Sessions(ctx context.Context) ([]SessionSummary, error) {
	ids, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	metrics.ActiveSessions.Set(float64(len(ids)))

	out := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		st, err := m.store.Load(ctx, id)
		var notFound *apperrors.ErrSessionNotFound
		if errors.As(err, &notFound) {
			// deleted between List and Load
			continue
		}
		if err != nil {
			return nil, err
		}

		summary := SessionSummary{
			SessionID:    st.SessionID,
			Title:        st.Title,
			Model:        st.Model,
			MessageCount: len(st.Messages),
			EntityCount:  len(st.KG.Entities),
		}
		if n := len(st.Messages); n > 0 {
			summary.LastActive = st.Messages[n-1].Timestamp
		}
		out = append(out, summary)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActive > out[j].LastActive
	})
	return out, nil
}

// Stats counts the stored sessions
func (m *Manager) Stats(ctx context.Context) (SessionStats, error) {
	ids, err := m.store.List(ctx)
	if err != nil {
		return SessionStats{}, err
	}
	metrics.ActiveSessions.Set(float64(len(ids)))
	return SessionStats{TotalSessions: len(ids)}, nil
}

const maxTitleRunes = 30

// SessionTitle names a session. An explicit title is used as is; otherwise the
// first message, whitespace collapsed and cut to 30 runes, is suffixed with the
// creation time.
func SessionTitle(title, firstMessage string, now time.Time) string {
	if title = strings.TrimSpace(title); title != "" {
		return title
	}

	stamp := now.Format("01/02 15:04")
	text := strings.Join(strings.Fields(firstMessage), " ")
	if text == "" {
		return "New Session • " + stamp
	}
	if utf8.RuneCountInString(text) > maxTitleRunes {
		text = string([]rune(text)[:maxTitleRunes-3]) + "..."
	}
	return text + " • " + stamp
}

// State returns the session state; unknown sessions read as fresh, unsaved state
func (m *Manager) State(ctx context.Context, sessionID string) (state.ChatState, error) {
	if err := validateSessionID(sessionID); err != nil {
		return state.ChatState{}, err
	}
	st, _, err := m.load(ctx, sessionID)
	return st, err
}

// Graph returns the session's knowledge graph
func (m *Manager) Graph(ctx context.Context, sessionID string) (kg.KnowledgeGraph, error) {
	st, err := m.State(ctx, sessionID)
	if err != nil {
		return kg.KnowledgeGraph{}, err
	}
	return st.KG, nil
}

// Context answers query against the session graph. A non-positive limit uses the configured context limit.
func (m *Manager) Context(ctx context.Context, sessionID, query string, limit int) (kg.FusedContext, error) {
	st, err := m.State(ctx, sessionID)
	if err != nil {
		return kg.FusedContext{}, err
	}
	if limit <= 0 {
		limit = m.contextLimit
	}
	return m.engine.Query(query, st.KG, limit), nil
}

func history(messages []state.Message) []adapter.ChatMessage {
	out := make([]adapter.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, adapter.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}
