package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"session-auth/internal/model"
)

type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Log(ctx context.Context, entry model.AuditEntry) error {
	var userID *string
	if entry.UserID != "" {
		userID = &entry.UserID
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_entries (action, occurred_at, user_id, subject, ip, status, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.Action, entry.OccurredAt, userID, entry.Subject, entry.IP, entry.Status, entry.Reason)
	if err != nil {
		return fmt.Errorf("log audit entry: %w", err)
	}
	return nil
}

// Query expects a normalized query (page >= 1, limit > 0).
func (r *AuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, int, error) {
	where := make([]string, 0)
	args := make([]any, 0)
	argIdx := 1

	if action := strings.TrimSpace(query.Action); action != "" {
		where = append(where, fmt.Sprintf("lower(action) = lower($%d)", argIdx))
		args = append(args, action)
		argIdx++
	}
	if userID := strings.TrimSpace(query.UserID); userID != "" {
		where = append(where, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, userID)
		argIdx++
	}
	if status := strings.TrimSpace(query.Status); status != "" {
		where = append(where, fmt.Sprintf("lower(status) = lower($%d)", argIdx))
		args = append(args, status)
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_entries %s", whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	offset := (query.Page - 1) * query.Limit
	dataQuery := fmt.Sprintf(
		`SELECT action, occurred_at, COALESCE(user_id, ''), subject, ip, status, reason
		 FROM audit_entries %s
		 ORDER BY occurred_at DESC
		 LIMIT $%d OFFSET $%d`, whereClause, argIdx, argIdx+1)
	args = append(args, query.Limit, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]model.AuditEntry, 0)
	for rows.Next() {
		var e model.AuditEntry
		var occurredAt time.Time
		if err := rows.Scan(&e.Action, &occurredAt, &e.UserID, &e.Subject, &e.IP, &e.Status, &e.Reason); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		e.OccurredAt = occurredAt.UTC()
		entries = append(entries, e)
	}

	return entries, total, rows.Err()
}

// MemoryAuditRepository keeps audit entries in insertion order.
type MemoryAuditRepository struct {
	mu      sync.RWMutex
	entries []model.AuditEntry
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Log(_ context.Context, entry model.AuditEntry) error {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

func (r *MemoryAuditRepository) Query(_ context.Context, query model.AuditQuery) ([]model.AuditEntry, int, error) {
	action := strings.ToLower(strings.TrimSpace(query.Action))
	status := strings.ToLower(strings.TrimSpace(query.Status))
	userID := strings.TrimSpace(query.UserID)

	r.mu.RLock()
	items := make([]model.AuditEntry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if action != "" && strings.ToLower(e.Action) != action {
			continue
		}
		if status != "" && strings.ToLower(e.Status) != status {
			continue
		}
		if userID != "" && e.UserID != userID {
			continue
		}
		items = append(items, e)
	}
	r.mu.RUnlock()

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].OccurredAt.After(items[j].OccurredAt)
	})

	total := len(items)
	start := (query.Page - 1) * query.Limit
	if start > total {
		start = total
	}
	end := start + query.Limit
	if end > total {
		end = total
	}
	return items[start:end], total, nil
}
