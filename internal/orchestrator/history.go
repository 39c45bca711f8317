package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kurogate/kuro/infrastructure/state"
)

// Turn is one recorded message in a session's history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryStore persists per-session turn history on top of a
// state.PersistenceBackend, the same key-prefixed save/load/list shape
// infrastructure/state's PersistentState wraps — built directly here
// instead of through PersistentState because turns need list-append
// semantics PersistentState's single-value Save doesn't offer.
type HistoryStore struct {
	backend state.PersistenceBackend
	prefix  string
}

// NewHistoryStore builds a HistoryStore over backend.
func NewHistoryStore(backend state.PersistenceBackend) *HistoryStore {
	return &HistoryStore{backend: backend, prefix: "session_history:"}
}

func (s *HistoryStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Recent returns the last `limit` turns for a session, rendered as plain
// "role: content" strings, satisfying pipeline.HistoryStore.
func (s *HistoryStore) Recent(ctx context.Context, sessionID string, limit int) ([]string, error) {
	turns, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Role + ": " + t.Content
	}
	return out, nil
}

// Append records one user turn and one assistant turn (thinking already
// stripped by the caller) for sessionID.
func (s *HistoryStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	existing, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	existing = append(existing, turns...)

	encoded, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("orchestrator: encode history: %w", err)
	}
	return s.backend.Save(ctx, s.key(sessionID), encoded)
}

func (s *HistoryStore) load(ctx context.Context, sessionID string) ([]Turn, error) {
	raw, err := s.backend.Load(ctx, s.key(sessionID))
	if err != nil {
		if err == state.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var turns []Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("orchestrator: decode history: %w", err)
	}
	return turns, nil
}
