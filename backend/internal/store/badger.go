package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"kgchat/backend/internal/state"
	apperrors "kgchat/backend/pkg/errors"
	"kgchat/backend/pkg/logger"
)

const sessionKeyPrefix = "session/"

// BadgerConfig holds configuration for the embedded key-value store
type BadgerConfig struct {
	// Dir is the data directory; ignored when InMemory is set
	Dir string
	// InMemory keeps everything in RAM, used by tests
	InMemory   bool
	SyncWrites bool
}

// BadgerStore keeps one JSON value per session under "session/<id>"
type BadgerStore struct {
	db *badger.DB
}

// zapBadgerLogger adapts zap to badger's Logger interface
type zapBadgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l zapBadgerLogger) Errorf(format string, args ...interface{})   { l.sugar.Errorf(format, args...) }
func (l zapBadgerLogger) Warningf(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }
func (l zapBadgerLogger) Infof(format string, args ...interface{})    { l.sugar.Debugf(format, args...) }
func (l zapBadgerLogger) Debugf(format string, args ...interface{})   { l.sugar.Debugf(format, args...) }

// OpenBadger opens a Badger database, creating the directory when needed
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, apperrors.NewConfigMissingRequired("BADGER_DIR")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, apperrors.NewStoreConnectionFailed("badger", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(zapBadgerLogger{sugar: logger.Get().Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperrors.NewStoreConnectionFailed("badger", cfg.Dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func sessionKey(sessionID string) []byte {
	return []byte(sessionKeyPrefix + sessionID)
}

func (s *BadgerStore) Load(_ context.Context, sessionID string) (state.ChatState, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return state.ChatState{}, apperrors.NewSessionNotFound(sessionID)
	}
	if err != nil {
		return state.ChatState{}, failed(s.Backend(), "load", err)
	}

	st, err := decodeState(data)
	if err != nil {
		return state.ChatState{}, failed(s.Backend(), "load", err)
	}
	return st, nil
}

func (s *BadgerStore) Save(_ context.Context, st state.ChatState) error {
	data, err := encodeState(st)
	if err != nil {
		return failed(s.Backend(), "save", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(st.SessionID), data)
	})
	if err != nil {
		return failed(s.Backend(), "save", fmt.Errorf("session %s: %w", st.SessionID, err))
	}
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, sessionID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(sessionID))
	})
	if err != nil {
		return failed(s.Backend(), "delete", err)
	}
	return nil
}

// List walks the session key prefix; badger iterates keys in byte order
func (s *BadgerStore) List(_ context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(sessionKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(sessionKeyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, failed(s.Backend(), "list", err)
	}
	return ids, nil
}

func (s *BadgerStore) Backend() string { return "badger" }

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
