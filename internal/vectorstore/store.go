// Package vectorstore implements the per-user, per-namespace document and
// embedding store described by the gateway's retrieval layer: add/query/clear
// over a small, per-user linear-scan cosine index backed by a JSON file per
// (userId, namespace) pair.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/kurogate/kuro/infrastructure/logging"
	"github.com/kurogate/kuro/infrastructure/state"
)

// Namespace is one of the two closed namespaces the store supports.
type Namespace string

const (
	// NamespaceEdubba holds durable user knowledge ingested by the user.
	NamespaceEdubba Namespace = "edubba"
	// NamespaceMnemosyne holds assistant response traces.
	NamespaceMnemosyne Namespace = "mnemosyne"
)

func (n Namespace) valid() bool {
	return n == NamespaceEdubba || n == NamespaceMnemosyne
}

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Record is one (document, embedding, metadata) triple.
type Record struct {
	Document  string         `json:"document"`
	Embedding []float64      `json:"embedding"`
	Metadata  map[string]any `json:"metadata"`
}

// Result is a ranked query hit.
type Result struct {
	Document   string         `json:"document"`
	Metadata   map[string]any `json:"metadata"`
	Similarity float64        `json:"similarity"`
}

// store is a single (userId, namespace)'s record set, guarded by its own
// mutex so writes to different stores never contend.
type store struct {
	mu      sync.Mutex
	records []Record
}

// Store is the process-wide cache of per-user-per-namespace stores, as
// required by the concurrency model: "cached in a process-wide map keyed by
// userId/namespace; each store serializes its own writes."
type Store struct {
	mu      sync.RWMutex
	stores  map[string]*store
	backend state.PersistenceBackend
	log     *logging.Logger
}

func New(backend state.PersistenceBackend, log *logging.Logger) *Store {
	return &Store{
		stores:  make(map[string]*store),
		backend: backend,
		log:     log,
	}
}

func storeKey(userID string, ns Namespace) string {
	return fmt.Sprintf("%s/%s", userID, ns)
}

// sanitizeUserID enforces the [A-Za-z0-9_-]{1,64} invariant. It returns the
// sanitized id and whether it differs from the input (a namespace-violation
// signal the caller should audit-log).
func sanitizeUserID(userID string) (string, bool) {
	if userIDPattern.MatchString(userID) {
		return userID, false
	}
	sanitized := regexp.MustCompile(`[^A-Za-z0-9_-]`).ReplaceAllString(userID, "")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	if sanitized == "" {
		sanitized = "anon"
	}
	return sanitized, true
}

func (s *Store) get(userID string, ns Namespace) (*store, error) {
	if userID == "" {
		return nil, fmt.Errorf("vectorstore: anonymous callers are refused")
	}
	if !ns.valid() {
		return nil, fmt.Errorf("vectorstore: unknown namespace %q", ns)
	}
	sanitized, changed := sanitizeUserID(userID)
	if changed && s.log != nil {
		s.log.WithField("raw_user_id", userID).WithField("sanitized", sanitized).
			Warn("vectorstore: user id sanitized — namespace violation")
	}

	key := storeKey(sanitized, ns)

	s.mu.RLock()
	st, ok := s.stores[key]
	s.mu.RUnlock()
	if ok {
		return st, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stores[key]; ok {
		return st, nil
	}
	st = &store{}
	s.loadLocked(key, st)
	s.stores[key] = st
	return st, nil
}

func (s *Store) loadLocked(key string, st *store) {
	if s.backend == nil {
		return
	}
	data, err := s.backend.Load(context.Background(), "vectors:"+key)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, &st.records)
}

func (s *Store) persist(key string, st *store) {
	if s.backend == nil {
		return
	}
	data, err := json.Marshal(st.records)
	if err != nil {
		return
	}
	_ = s.backend.Save(context.Background(), "vectors:"+key, data)
}

// Add appends document/embedding/metadata triples. All three arrays must
// have equal length; a record with a missing embedding is dropped silently.
func (s *Store) Add(userID string, ns Namespace, documents []string, embeddings [][]float64, metadata []map[string]any) error {
	if len(documents) != len(embeddings) || len(documents) != len(metadata) {
		return fmt.Errorf("vectorstore: documents/embeddings/metadata length mismatch")
	}

	st, err := s.get(userID, ns)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range documents {
		if len(embeddings[i]) == 0 {
			continue
		}
		meta := metadata[i]
		if meta == nil {
			meta = map[string]any{}
		}
		if _, ok := meta["timestamp"]; !ok {
			meta["timestamp"] = time.Now().UTC().Format(time.RFC3339)
		}
		st.records = append(st.records, Record{
			Document:  documents[i],
			Embedding: embeddings[i],
			Metadata:  meta,
		})
	}

	sanitized, _ := sanitizeUserID(userID)
	s.persist(storeKey(sanitized, ns), st)
	return nil
}

// Query returns the top-k records above threshold, ranked by cosine
// similarity descending. A nil embedding yields an empty result set.
func (s *Store) Query(userID string, ns Namespace, embedding []float64, k int, threshold float64) ([]Result, error) {
	if embedding == nil {
		return nil, nil
	}
	st, err := s.get(userID, ns)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	records := make([]Record, len(st.records))
	copy(records, st.records)
	st.mu.Unlock()

	results := make([]Result, 0, len(records))
	for _, r := range records {
		sim := cosineSimilarity(embedding, r.Embedding)
		if sim < threshold {
			continue
		}
		results = append(results, Result{Document: r.Document, Metadata: r.Metadata, Similarity: sim})
	}

	sortResultsDesc(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of records in a user's namespace.
func (s *Store) Count(userID string, ns Namespace) (int, error) {
	st, err := s.get(userID, ns)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.records), nil
}

// Clear removes all records in a user's namespace.
func (s *Store) Clear(userID string, ns Namespace) error {
	st, err := s.get(userID, ns)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.records = nil
	st.mu.Unlock()

	sanitized, _ := sanitizeUserID(userID)
	s.persist(storeKey(sanitized, ns), st)
	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortResultsDesc(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Similarity > results[j-1].Similarity; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
