package main

import (
	"net/http"

	"github.com/kurogate/kuro/infrastructure/httputil"
)

const maxUploadBytes = 16 << 20

// handleFilesUpload accepts a raw file body (filename carried in the
// X-Filename header, matching the gateway's other binary-body routes) and
// hands it to the retrieval uploader for chunking and ingestion.
func handleFilesUpload(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())

		filename := r.Header.Get("X-Filename")
		if filename == "" {
			httputil.BadRequest(w, "X-Filename header is required")
			return
		}

		body, err := httputil.ReadAllStrict(r.Body, maxUploadBytes)
		if err != nil {
			httputil.BadRequest(w, "request body too large or unreadable")
			return
		}

		result, err := d.Uploader.Upload(r.Context(), caller.UserID, filename, body)
		if err != nil {
			httputil.InternalError(w, "upload failed")
			return
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"fileId":     result.FileID,
			"chunkCount": result.ChunkCount,
		})
	}
}
