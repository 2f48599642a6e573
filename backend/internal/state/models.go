package state

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"kgchat/backend/internal/kg"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultModel is the model a fresh session starts with
const DefaultModel = "gpt-4o-mini"

// Message is one chat turn as stored and returned by the API
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// NewMessage creates a message with a fresh id stamped at now
func NewMessage(role, content string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: now.UnixMilli(),
	}
}

// Validate checks if the Message is valid
func (m *Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return ErrInvalidMessage{Field: "role", Reason: fmt.Sprintf("unknown role %q", m.Role)}
	}
	if m.ID == "" {
		return ErrInvalidMessage{Field: "id", Reason: "cannot be empty"}
	}
	return nil
}

// ChatState is everything persisted for one session: its transcript and the
// knowledge graph accumulated from it
type ChatState struct {
	SessionID    string            `json:"sessionId"`
	Title        string            `json:"title,omitempty"`
	Messages     []Message         `json:"messages"`
	IsProcessing bool              `json:"isProcessing"`
	Model        string            `json:"model"`
	KG           kg.KnowledgeGraph `json:"kg"`
}

// NewChatState returns the initial state for a session
func NewChatState(sessionID, model string) ChatState {
	if model == "" {
		model = DefaultModel
	}
	return ChatState{
		SessionID: sessionID,
		Messages:  []Message{},
		Model:     model,
		KG:        kg.NewKnowledgeGraph(),
	}
}

// Transcript joins every message content with newlines, oldest first
func (s ChatState) Transcript() string {
	parts := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// Clone returns a copy that shares nothing mutable with s
func (s ChatState) Clone() ChatState {
	out := s
	out.Messages = append(make([]Message, 0, len(s.Messages)), s.Messages...)
	out.KG = s.KG.Clone()
	return out
}

// Validate checks if the ChatState is valid
func (s *ChatState) Validate() error {
	if s.SessionID == "" {
		return ErrInvalidState{Field: "sessionId", Reason: "cannot be empty"}
	}
	for i := range s.Messages {
		if err := s.Messages[i].Validate(); err != nil {
			return ErrInvalidState{Field: fmt.Sprintf("messages[%d]", i), Reason: err.Error()}
		}
	}
	return nil
}

// Errors

type ErrInvalidState struct {
	Field  string
	Reason string
}

func (e ErrInvalidState) Error() string {
	return fmt.Sprintf("invalid chat state: %s - %s", e.Field, e.Reason)
}

type ErrInvalidMessage struct {
	Field  string
	Reason string
}

func (e ErrInvalidMessage) Error() string {
	return fmt.Sprintf("invalid message: %s - %s", e.Field, e.Reason)
}
