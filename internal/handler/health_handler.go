package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"session-auth/pkg/apierror"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store pinger
}

func NewHealthHandler(store pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		slog.WarnContext(ctx, "health check failed", "error", err)
		writeError(w, apierror.Unavailable("store is unreachable"))
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
}
