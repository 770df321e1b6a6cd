package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/apperr"
)

// errorResponse is the flat {error, code?} shape spec §6 mandates for every
// non-2xx HTTP response — deliberately not the nested {error:{code,message}}
// shape internal/rpc uses for JSON-RPC errors.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as the flat error response, deriving both the
// HTTP status and the "code" field from its apperr.Code classification.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= 500 {
		log.Error().Err(err).Msg("httpapi: request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: string(code)})
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
