package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"session-auth/internal/model"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

type AuditStore interface {
	Log(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, int, error)
}

// AuditService records session events. Recording is best effort: a store
// error is logged and never fails the request that produced the event.
type AuditService struct {
	store AuditStore
	log   *slog.Logger
	now   func() time.Time
}

func NewAuditService(store AuditStore, log *slog.Logger) *AuditService {
	if log == nil {
		log = slog.Default()
	}
	return &AuditService{store: store, log: log.With("component", "audit"), now: time.Now}
}

func (s *AuditService) Record(ctx context.Context, entry model.AuditEntry) {
	if s == nil || s.store == nil {
		return
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now().UTC()
	}

	if err := s.store.Log(ctx, entry); err != nil {
		s.log.WarnContext(ctx, "audit entry dropped", "action", entry.Action, "status", entry.Status, "error", err)
	}
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = defaultAuditLimit
	}
	if query.Limit > maxAuditLimit {
		query.Limit = maxAuditLimit
	}
	if status := strings.ToLower(strings.TrimSpace(query.Status)); status != "" &&
		status != model.AuditStatusSuccess && status != model.AuditStatusFailure {
		return nil, model.Meta{}, fmt.Errorf("%w: status must be %q or %q", model.ErrInvalidInput, model.AuditStatusSuccess, model.AuditStatusFailure)
	}

	entries, total, err := s.store.Query(ctx, query)
	if err != nil {
		s.log.ErrorContext(ctx, "store operation failed", "op", "query audit entries", "error", err)
		return nil, model.Meta{}, fmt.Errorf("query audit entries: %w: %w", model.ErrStoreFailure, err)
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + query.Limit - 1) / query.Limit
	}
	return entries, model.Meta{Page: query.Page, Limit: query.Limit, Total: total, TotalPages: totalPages}, nil
}
