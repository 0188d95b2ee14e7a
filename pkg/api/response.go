package api

import (
	"encoding/json"
	"net/http"

	"github.com/marmos91/torrin/internal/logger"
	"github.com/marmos91/torrin/pkg/upload"
)

// errorBody is the wire shape of every error response:
//
//	{"error": {"code": "...", "message": "...", "details": {...}}}
type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    upload.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Details map[string]any   `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps an error to its HTTP status and wire body. Untyped errors
// surface as INTERNAL_ERROR without leaking internals to the client.
func writeError(w http.ResponseWriter, err error) {
	typed, ok := upload.AsError(err)
	if !ok {
		logger.Error("unexpected error in API handler", "error", err)
		typed = upload.NewError(upload.CodeInternalError, "internal server error")
	}

	writeJSON(w, typed.HTTPStatus(), errorBody{
		Error: errorPayload{
			Code:    typed.Code,
			Message: typed.Message,
			Details: typed.Details,
		},
	})
}
