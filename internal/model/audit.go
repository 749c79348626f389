package model

import "time"

// Audit actions recorded for session events.
const (
	AuditActionRegister = "user.register"
	AuditActionLogin    = "session.login"
	AuditActionRefresh  = "session.refresh"
	AuditActionLogout   = "session.logout"
	AuditActionUpdate   = "user.update"
	AuditActionDelete   = "user.delete"

	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
)

type AuditEntry struct {
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
	UserID     string    `json:"user_id,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
}

type AuditQuery struct {
	Action string
	UserID string
	Status string
	Page   int
	Limit  int
}

type AuditListData struct {
	Items []AuditEntry `json:"items"`
}
