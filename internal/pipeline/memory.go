package pipeline

import (
	"container/list"
	"context"
	"sync"
)

// HistoryStore is implemented by the session layer (kept outside this
// package for the same reason Retriever is: avoids an import cycle).
type HistoryStore interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]string, error)
}

// MemoryStage attaches a bounded window of recent conversation turns to the
// request, and maintains a small in-process LRU cache in front of the
// session store so repeated turns in the same session don't re-fetch.
type MemoryStage struct {
	store      HistoryStore
	maxTurns   int
	mu         sync.Mutex
	cache      map[string]*list.Element
	order      *list.List
	cacheLimit int
}

type memoryEntry struct {
	sessionID string
	turns     []string
}

// NewMemoryStage wraps a HistoryStore, keeping at most maxTurns messages of
// context and caching up to cacheLimit sessions in memory.
func NewMemoryStage(store HistoryStore, maxTurns, cacheLimit int) *MemoryStage {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	if cacheLimit <= 0 {
		cacheLimit = 256
	}
	return &MemoryStage{
		store:      store,
		maxTurns:   maxTurns,
		cache:      make(map[string]*list.Element),
		order:      list.New(),
		cacheLimit: cacheLimit,
	}
}

func (m *MemoryStage) Name() string { return "memory" }

func (m *MemoryStage) Run(ctx context.Context, req *Request) (Decision, error) {
	if m.store == nil || req.SessionID == "" {
		return clear(map[string]any{"turns": 0}), nil
	}

	if turns, ok := m.fromCache(req.SessionID); ok {
		req.History = turns
		return clear(map[string]any{"turns": len(turns), "cached": true}), nil
	}

	turns, err := m.store.Recent(ctx, req.SessionID, m.maxTurns)
	if err != nil {
		return Decision{}, err
	}
	m.put(req.SessionID, turns)
	req.History = turns
	return clear(map[string]any{"turns": len(turns), "cached": false}), nil
}

func (m *MemoryStage) fromCache(sessionID string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.cache[sessionID]
	if !ok {
		return nil, false
	}
	m.order.MoveToFront(el)
	return el.Value.(*memoryEntry).turns, true
}

func (m *MemoryStage) put(sessionID string, turns []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.cache[sessionID]; ok {
		el.Value.(*memoryEntry).turns = turns
		m.order.MoveToFront(el)
		return
	}
	el := m.order.PushFront(&memoryEntry{sessionID: sessionID, turns: turns})
	m.cache[sessionID] = el
	for m.order.Len() > m.cacheLimit {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.order.Remove(oldest)
		delete(m.cache, oldest.Value.(*memoryEntry).sessionID)
	}
}
