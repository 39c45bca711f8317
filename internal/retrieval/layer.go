package retrieval

import (
	"context"
	"fmt"

	"github.com/kurogate/kuro/internal/vectorstore"
)

// DefaultThreshold is the similarity floor applied when a caller does not
// specify one.
const DefaultThreshold = 0.75

// Layer wires the embedding client to the per-user vector store and
// satisfies the pipeline's narrow Retriever interface.
type Layer struct {
	embed     *EmbeddingClient
	store     *vectorstore.Store
	threshold float64
}

// New builds a retrieval layer over an embedding client and vector store.
func New(embed *EmbeddingClient, store *vectorstore.Store, threshold float64) *Layer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Layer{embed: embed, store: store, threshold: threshold}
}

// TopK embeds the query and returns the top-k matching documents for the
// caller's namespace, satisfying pipeline.Retriever.
func (l *Layer) TopK(ctx context.Context, userID, namespace, query string, k int) ([]string, error) {
	ns := vectorstore.Namespace(namespace)
	embedding, err := l.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := l.store.Query(userID, ns, embedding, k, l.threshold)
	if err != nil {
		return nil, err
	}

	documents := make([]string, len(results))
	for i, r := range results {
		documents[i] = r.Document
	}
	return documents, nil
}

// Ingest embeds a slice of document chunks and stores them under the
// caller's namespace, tagging each with the supplied metadata plus a
// chunkIndex.
func (l *Layer) Ingest(ctx context.Context, userID, namespace string, chunks []string, baseMetadata map[string]any) error {
	ns := vectorstore.Namespace(namespace)
	embeddings := make([][]float64, len(chunks))
	metadata := make([]map[string]any, len(chunks))

	for i, chunk := range chunks {
		embedding, err := l.embed.Embed(ctx, chunk)
		if err != nil {
			// A missing embedding for a document is dropped silently, per
			// the store's add-time contract; record a nil slot so lengths
			// still line up, Add will skip it.
			embeddings[i] = nil
		} else {
			embeddings[i] = embedding
		}

		meta := map[string]any{}
		for k, v := range baseMetadata {
			meta[k] = v
		}
		meta["chunkIndex"] = i
		metadata[i] = meta
	}

	if err := l.store.Add(userID, ns, chunks, embeddings, metadata); err != nil {
		return fmt.Errorf("retrieval: ingest failed: %w", err)
	}
	return nil
}

// Stats reports the record count for a caller's namespace.
func (l *Layer) Stats(userID, namespace string) (int, error) {
	return l.store.Count(userID, vectorstore.Namespace(namespace))
}

// Clear removes all records in a caller's namespace.
func (l *Layer) Clear(userID, namespace string) error {
	return l.store.Clear(userID, vectorstore.Namespace(namespace))
}
