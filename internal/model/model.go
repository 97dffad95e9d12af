package model

import (
	"time"

	"sar/internal/apperr"
)

// DateLayout is used for date-only values in paths and filters.
const DateLayout = "2006-01-02"

const (
	RoleAdmin    = "Admin"
	RoleReviewer = "Reviewer"
	RoleViewer   = "Viewer"
)

const (
	StatusActive   = "Active"
	StatusInactive = "Inactive"
)

// ValidateStatus accepts StatusActive and StatusInactive.
func ValidateStatus(s string) error {
	if s != StatusActive && s != StatusInactive {
		return apperr.Invalid("status", "must be %s or %s", StatusActive, StatusInactive)
	}
	return nil
}

// AuditFields are stamped by whoever mutates the record, using the acting
// user and the current time.
type AuditFields struct {
	CreatedBy   string     `json:"createdBy"`
	CreatedDate time.Time  `json:"createdDate"`
	ChangedBy   string     `json:"changedBy,omitempty"`
	ChangedDate *time.Time `json:"changedDate,omitempty"`
}

func (a *AuditFields) StampCreated(user string, at time.Time) {
	a.CreatedBy = user
	a.CreatedDate = at
}

func (a *AuditFields) StampChanged(user string, at time.Time) {
	a.ChangedBy = user
	a.ChangedDate = &at
}

type Validity struct {
	ValidFrom time.Time `json:"validFrom"`
	ValidTo   time.Time `json:"validTo"`
}

// Validate enforces validTo >= validFrom.
func (v Validity) Validate() error {
	if v.ValidFrom.IsZero() {
		return apperr.Invalid("validFrom", "is required")
	}
	if v.ValidTo.IsZero() {
		return apperr.Invalid("validTo", "is required")
	}
	if v.ValidTo.Before(v.ValidFrom) {
		return apperr.Invalid("validTo", "must not be before validFrom")
	}
	return nil
}

// Covers reports whether t falls inside the window, both ends inclusive.
func (v Validity) Covers(t time.Time) bool {
	return !t.Before(v.ValidFrom) && !t.After(v.ValidTo)
}

type Schedule struct {
	ID          int64  `json:"id"`
	Period      string `json:"period"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Validity
	AuditFields
}

func (s Schedule) Validate() error {
	if s.Period == "" {
		return apperr.Invalid("period", "is required")
	}
	if _, err := ParsePeriod(s.Period); err != nil {
		return err
	}
	return s.Validity.Validate()
}

type SystemMaster struct {
	ID          int64  `json:"id"`
	SystemType  string `json:"systemType"`
	SystemCode  string `json:"systemCode"`
	SystemName  string `json:"systemName"`
	Description string `json:"description"`
	PicName     string `json:"picName"`
	Status      string `json:"status"`
	Validity
	AuditFields
}

// SystemKey is the compound identity of a SystemMaster record.
type SystemKey struct {
	SystemType string
	SystemCode string
	ValidFrom  time.Time
}

func (s SystemMaster) Key() SystemKey {
	return SystemKey{SystemType: s.SystemType, SystemCode: s.SystemCode, ValidFrom: s.ValidFrom}
}

func (k SystemKey) Segments() []string {
	return []string{k.SystemType, k.SystemCode, k.ValidFrom.Format(DateLayout)}
}

func (s SystemMaster) Validate() error {
	if s.SystemType == "" {
		return apperr.Invalid("systemType", "is required")
	}
	if s.SystemCode == "" {
		return apperr.Invalid("systemCode", "is required")
	}
	if s.SystemName == "" {
		return apperr.Invalid("systemName", "is required")
	}
	return s.Validity.Validate()
}

type PicUser struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Division string `json:"division"`
	Status   string `json:"status"`
	Validity
	AuditFields
}

func (p PicUser) Validate() error {
	if p.Name == "" {
		return apperr.Invalid("name", "is required")
	}
	if p.Division == "" {
		return apperr.Invalid("division", "is required")
	}
	return p.Validity.Validate()
}

// LogEntry is one backend process log row shown on the log monitoring view.
type LogEntry struct {
	ID        int64      `json:"id"`
	Module    string     `json:"module"`
	Function  string     `json:"function"`
	Status    string     `json:"status"`
	User      string     `json:"user"`
	Details   string     `json:"details"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

const (
	ProcessSuccess = "Success"
	ProcessError   = "Error"
)

// UARProgress is the review progress of one system within one division for
// a review period.
type UARProgress struct {
	Period       string `json:"period"`
	DivisionID   string `json:"divisionId"`
	DivisionName string `json:"divisionName"`
	SystemID     string `json:"systemId"`
	SystemName   string `json:"systemName"`
	Total        int    `json:"total"`
	Completed    int    `json:"completed"`
}

// Percentage is the completion ratio in percent; an empty row counts as 0.
func (p UARProgress) Percentage() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Completed) * 100 / float64(p.Total)
}

type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Role       string    `json:"role"`
	Division   string    `json:"division,omitempty"`
	Active     bool      `json:"active"`
	AuthSource string    `json:"authSource"`
	PassHash   string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Public returns the user with every credential field cleared.
func (u User) Public() User {
	u.PassHash = ""
	return u
}

// Session is a refresh token grant. The identity captured at login is
// re-issued on refresh, so directory users need no users row.
type Session struct {
	TokenHash  string
	Username   string
	Name       string
	Role       string
	AuthSource string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}
