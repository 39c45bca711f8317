package orchestrator

import (
	"encoding/json"
	"net/http"

	"github.com/kurogate/kuro/infrastructure/httputil"
	"github.com/kurogate/kuro/internal/validate"
)

func decodeStreamRequest(w http.ResponseWriter, r *http.Request, out *validate.StreamRequest) bool {
	return httputil.DecodeJSON(w, r, out)
}

func writeValidationErrors(w http.ResponseWriter, errs []validate.ValidationError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{"errors": errs})
}

func writeInternalError(w http.ResponseWriter) {
	httputil.InternalError(w, "internal server error")
}

func clientIP(r *http.Request) string {
	return httputil.ClientIP(r)
}
