package middleware

import (
	"encoding/json"
	"net/http"

	"session-auth/internal/model"
)

// writeFailure answers a request the middleware chain refuses to pass on,
// using the same envelope as the handlers.
func writeFailure(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   &model.APIError{Code: code, Message: message},
	})
}
