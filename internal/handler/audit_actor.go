package handler

import (
	"context"
	"net/http"

	"session-auth/internal/middleware"
	"session-auth/internal/model"
)

type auditRecorder interface {
	Record(ctx context.Context, entry model.AuditEntry)
}

// recordAudit stores one session event. A nil err is a success; otherwise
// the public error code becomes the reason.
func recordAudit(r *http.Request, audit auditRecorder, action string, userID string, subject string, err error) {
	if audit == nil {
		return
	}

	entry := model.AuditEntry{
		Action:  action,
		UserID:  userID,
		Subject: subject,
		IP:      middleware.ClientIP(r),
		Status:  model.AuditStatusSuccess,
	}
	if entry.UserID == "" {
		if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
			entry.UserID = claims.UserID
		}
	}
	if err != nil {
		_, body := classifyError(err)
		entry.Status = model.AuditStatusFailure
		entry.Reason = body.Code
	}

	audit.Record(r.Context(), entry)
}
