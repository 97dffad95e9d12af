package model

import "time"

// ActionKind enumerates what an audit entry records.
type ActionKind string

const (
	ActionLogin        ActionKind = "LOGIN"
	ActionLogout       ActionKind = "LOGOUT"
	ActionView         ActionKind = "VIEW"
	ActionCreate       ActionKind = "CREATE"
	ActionUpdate       ActionKind = "UPDATE"
	ActionDelete       ActionKind = "DELETE"
	ActionStatusChange ActionKind = "STATUS_CHANGE"
	ActionExport       ActionKind = "EXPORT"
	ActionRefresh      ActionKind = "REFRESH"
	ActionError        ActionKind = "ERROR"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeWarning Outcome = "warning"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeWarning:
		return true
	}
	return false
}

// AuditLogEntry is created once at the moment of an action and not modified
// afterwards; it is passed around by value.
type AuditLogEntry struct {
	ID           int64      `json:"id,omitempty"`
	RequestID    string     `json:"requestId"`
	SessionID    string     `json:"sessionId"`
	UserID       string     `json:"userId"`
	UserName     string     `json:"userName"`
	UserRole     string     `json:"userRole"`
	Action       ActionKind `json:"action"`
	Module       string     `json:"module"`
	Description  string     `json:"description"`
	Outcome      Outcome    `json:"outcome"`
	ErrorCode    string     `json:"errorCode,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	Location     string     `json:"location"`
	UserAgent    string     `json:"userAgent"`
	IPAddress    string     `json:"ipAddress,omitempty"`
}

// Valid reports whether the entry has a non-empty action and exactly one
// known outcome.
func (e AuditLogEntry) Valid() bool {
	return e.Action != "" && e.Outcome.Valid()
}
