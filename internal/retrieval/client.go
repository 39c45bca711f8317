// Package retrieval implements the gateway's retrieval layer: query
// embedding against the backend's embedding endpoint, top-K similarity
// search over the per-user vector store, file-upload ingestion, and session
// compaction for the memory stage.
package retrieval

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tidwall/gjson"

	"github.com/kurogate/kuro/infrastructure/httputil"
)

// EmbeddingClient calls the backend's embedding endpoint.
type EmbeddingClient struct {
	httpClient *http.Client
	baseURL    string

	cache    *redis.Client
	cacheTTL time.Duration
}

// NewEmbeddingClient builds a client against the backend's base URL, reusing
// the gateway's standard client-configuration helper.
func NewEmbeddingClient(baseURL string, httpClient *http.Client) (*EmbeddingClient, error) {
	client, normalized, err := httputil.NewClientWithBaseURL(httputil.ClientConfig{
		BaseURL:    baseURL,
		HTTPClient: httpClient,
	}, httputil.ClientDefaults{
		Timeout:          10 * time.Second,
		MaxBodyBytes:     1 << 20,
		NormalizeBaseURL: true,
	})
	if err != nil {
		return nil, err
	}
	return &EmbeddingClient{httpClient: client, baseURL: normalized}, nil
}

// SetCache attaches an optional Redis-backed cache in front of the backend
// embedding call, keyed by a hash of the input text, so repeated retrieval
// queries for the same text (a common pattern once a few canned prompts
// dominate traffic) skip the round trip entirely. A nil rdb disables
// caching, which is the default for NewEmbeddingClient.
func (c *EmbeddingClient) SetCache(rdb *redis.Client, ttl time.Duration) {
	c.cache = rdb
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.cacheTTL = ttl
}

func embeddingCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "kuro:embed:" + base64.RawURLEncoding.EncodeToString(sum[:])
}

// Embed requests a fixed-dimension embedding for a single text, serving
// from the Redis cache when one is attached and populated.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if c.cache != nil {
		if cached, ok := c.lookupCache(ctx, text); ok {
			return cached, nil
		}
	}

	embedding, err := c.embedUncached(ctx, text)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.storeCache(ctx, text, embedding)
	}
	return embedding, nil
}

func (c *EmbeddingClient) lookupCache(ctx context.Context, text string) ([]float64, bool) {
	raw, err := c.cache.Get(ctx, embeddingCacheKey(text)).Bytes()
	if err != nil {
		// Cache miss or a down/unreachable Redis both fall through to the
		// real backend call; embeddings are not load-bearing for
		// correctness, only for avoiding redundant work.
		return nil, false
	}
	var embedding []float64
	if err := json.Unmarshal(raw, &embedding); err != nil {
		return nil, false
	}
	return embedding, true
}

func (c *EmbeddingClient) storeCache(ctx context.Context, text string, embedding []float64) {
	encoded, err := json.Marshal(embedding)
	if err != nil {
		return
	}
	_ = c.cache.Set(ctx, embeddingCacheKey(text), encoded, c.cacheTTL).Err()
}

func (c *EmbeddingClient) embedUncached(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(map[string]string{"input": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := httputil.ReadAllStrict(resp.Body, 1<<20)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding response too large: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval: embedding backend returned %d", resp.StatusCode)
	}

	values := gjson.GetBytes(raw, "embedding").Array()
	embedding := make([]float64, len(values))
	for i, v := range values {
		embedding[i] = v.Float()
	}
	return embedding, nil
}
