package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"session-auth/internal/model"
)

// Timeout buffers the handler's response; headers, including Set-Cookie,
// are only sent once the handler returns in time.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	message, _ := json.Marshal(model.APIResponse{
		Success: false,
		Error:   &model.APIError{Code: "REQUEST_TIMEOUT", Message: "request timed out"},
	})

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, string(message))
	}
}
