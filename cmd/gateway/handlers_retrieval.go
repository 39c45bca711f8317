package main

import (
	"net/http"

	"github.com/kurogate/kuro/infrastructure/httputil"
)

type embedRequest struct {
	Text string `json:"text"`
}

// handleEmbed proxies a single text through the backend's embedding
// endpoint, for clients that want raw vectors without going through
// ingest/query.
func handleEmbed(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if req.Text == "" {
			httputil.BadRequest(w, "text is required")
			return
		}
		vector, err := d.Embedding.Embed(r.Context(), req.Text)
		if err != nil {
			httputil.ServiceUnavailable(w, "embedding backend unavailable")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"embedding": vector})
	}
}

type ingestRequest struct {
	Namespace string         `json:"namespace"`
	Chunks    []string       `json:"chunks"`
	Metadata  map[string]any `json:"metadata"`
}

// handleIngest embeds and stores caller-supplied text chunks directly,
// without going through the file-upload path.
func handleIngest(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())
		var req ingestRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if len(req.Chunks) == 0 {
			httputil.BadRequest(w, "chunks is required")
			return
		}
		namespace := req.Namespace
		if namespace == "" {
			namespace = "edubba"
		}
		if err := d.Retrieval.Ingest(r.Context(), caller.UserID, namespace, req.Chunks, req.Metadata); err != nil {
			httputil.InternalError(w, "ingest failed")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"ingested": len(req.Chunks)})
	}
}

type ragQueryRequest struct {
	Namespace string `json:"namespace"`
	Query     string `json:"query"`
	TopK      int    `json:"topK"`
}

// handleRAGQuery runs a top-K similarity search over the caller's
// namespace.
func handleRAGQuery(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())
		var req ragQueryRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if req.Query == "" {
			httputil.BadRequest(w, "query is required")
			return
		}
		namespace := req.Namespace
		if namespace == "" {
			namespace = "edubba"
		}
		k := req.TopK
		if k <= 0 {
			k = 5
		}
		results, err := d.Retrieval.TopK(r.Context(), caller.UserID, namespace, req.Query, k)
		if err != nil {
			httputil.InternalError(w, "query failed")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

// handleRAGStats reports the caller's record count for a namespace.
func handleRAGStats(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())
		namespace := httputil.QueryString(r, "namespace", "edubba")
		count, err := d.Retrieval.Stats(caller.UserID, namespace)
		if err != nil {
			httputil.InternalError(w, "stats unavailable")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"namespace": namespace, "count": count})
	}
}

type ragClearRequest struct {
	Namespace string `json:"namespace"`
}

// handleRAGClear drops every record in the caller's namespace.
func handleRAGClear(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())
		var req ragClearRequest
		if !httputil.DecodeJSONOptional(w, r, &req) {
			return
		}
		namespace := req.Namespace
		if namespace == "" {
			namespace = "edubba"
		}
		if err := d.Retrieval.Clear(caller.UserID, namespace); err != nil {
			httputil.InternalError(w, "clear failed")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"cleared": namespace})
	}
}
