package store

import (
	"context"
	"encoding/json"
	"fmt"

	"kgchat/backend/internal/metrics"
	"kgchat/backend/internal/state"
	apperrors "kgchat/backend/pkg/errors"
)

// Store persists one ChatState per session. Implementations must be safe for
// concurrent use; the session manager serializes writes per session.
type Store interface {
	// Load returns the stored state, or *errors.ErrSessionNotFound when there is none
	Load(ctx context.Context, sessionID string) (state.ChatState, error)
	Save(ctx context.Context, st state.ChatState) error
	Delete(ctx context.Context, sessionID string) error
	// List returns every stored session id in ascending order
	List(ctx context.Context) ([]string, error)
	Backend() string
	Close() error
}

// failed wraps a backend error and counts it
func failed(backend, operation string, err error) error {
	metrics.StoreErrors.WithLabelValues(backend, operation).Inc()
	return apperrors.NewStoreOperationFailed(backend, operation, err)
}

func encodeState(st state.ChatState) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", st.SessionID, err)
	}
	return data, nil
}

func decodeState(data []byte) (state.ChatState, error) {
	var st state.ChatState
	if err := json.Unmarshal(data, &st); err != nil {
		return state.ChatState{}, fmt.Errorf("decode session: %w", err)
	}
	if st.Messages == nil {
		st.Messages = []state.Message{}
	}
	return st, nil
}
