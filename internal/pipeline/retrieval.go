package pipeline

import "context"

// Retriever is implemented by the retrieval layer (kept outside this
// package to avoid importing the vector store here); the pipeline only
// needs the top-K query shape.
type Retriever interface {
	TopK(ctx context.Context, userID, namespace string, query string, k int) ([]string, error)
}

// RetrievalStage fetches top-K records from the caller's vector store
// above a similarity threshold, when the request opts in.
type RetrievalStage struct {
	retriever Retriever
}

// NewRetrievalStage wraps a Retriever.
func NewRetrievalStage(retriever Retriever) *RetrievalStage {
	return &RetrievalStage{retriever: retriever}
}

func (s *RetrievalStage) Name() string { return "retrieval" }

func (s *RetrievalStage) Run(ctx context.Context, req *Request) (Decision, error) {
	if !req.UseRAG || s.retriever == nil || len(req.Messages) == 0 {
		return clear(map[string]any{"skipped": true}), nil
	}

	lastMessage := req.Messages[len(req.Messages)-1]
	k := req.RAGTopK
	if k <= 0 {
		k = 5
	}

	chunks, err := s.retriever.TopK(ctx, req.Caller.UserID, req.RAGNamespace, lastMessage, k)
	if err != nil {
		return Decision{}, err
	}
	req.RetrievedChunks = chunks
	return clear(map[string]any{"chunks": len(chunks)}), nil
}
