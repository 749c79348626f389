package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"session-auth/internal/model"
	"session-auth/pkg/apierror"
)

func writeSuccess(w http.ResponseWriter, status int, data any, meta *model.Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status, body := classifyError(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

// classifyError maps domain errors to a status and public error body.
// Store failures were logged where they happened and surface as a bare 500.
func classifyError(err error) (int, *model.APIError) {
	var apiErr *apierror.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.HTTPStatus, &model.APIError{Code: apiErr.Code, Message: apiErr.Message, Details: apiErr.Details}
	case errors.Is(err, model.ErrStoreFailure):
		return http.StatusInternalServerError, &model.APIError{Code: "INTERNAL_ERROR", Message: "Unexpected server error"}
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, &model.APIError{Code: "BAD_REQUEST", Message: "Invalid input", Details: inputDetails(err)}
	case errors.Is(err, model.ErrUserNotFound):
		return http.StatusNotFound, &model.APIError{Code: "NOT_FOUND", Message: "User not found"}
	case errors.Is(err, model.ErrUserAlreadyExists):
		return http.StatusConflict, &model.APIError{Code: "ALREADY_EXISTS", Message: "User already exists"}
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized, &model.APIError{Code: "INVALID_CREDENTIALS", Message: "Invalid credentials"}
	case errors.Is(err, model.ErrTokenStillValid):
		return http.StatusForbidden, &model.APIError{Code: "TOKEN_STILL_VALID", Message: "Access token is still valid"}
	case errors.Is(err, model.ErrTokenExpired):
		return http.StatusUnauthorized, &model.APIError{Code: "TOKEN_EXPIRED", Message: "Access token has expired"}
	case errors.Is(err, model.ErrUnauthorized),
		errors.Is(err, model.ErrTokenInvalid),
		errors.Is(err, model.ErrTokenNotFound):
		return http.StatusUnauthorized, &model.APIError{Code: "UNAUTHORIZED", Message: "Authentication required"}
	default:
		slog.Error("unhandled error in writeError", "error", err)
		return http.StatusInternalServerError, &model.APIError{Code: "INTERNAL_ERROR", Message: "Unexpected server error"}
	}
}

// inputDetails strips the sentinel prefix from a validation error.
func inputDetails(err error) string {
	return strings.TrimPrefix(err.Error(), model.ErrInvalidInput.Error()+": ")
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierror.BadRequest("invalid JSON body", "")
	}
	return nil
}

func parseIntOrDefault(raw string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return v
}
