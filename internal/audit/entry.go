package audit

import (
	"github.com/google/uuid"

	"sar/internal/model"
)

// Actor identifies who performed an audited action.
type Actor struct {
	UserID   string
	UserName string
	Role     string
}

// Event describes an action before it is stamped into an entry.
type Event struct {
	Action       model.ActionKind
	Module       string
	Description  string
	Outcome      model.Outcome
	ErrorCode    string
	ErrorMessage string
	Location     string
	UserAgent    string
	IPAddress    string
}

// NewEntry builds an entry for ev with a fresh request id, the buffer's
// session id and the current time.
func (b *Buffer) NewEntry(actor Actor, ev Event) model.AuditLogEntry {
	outcome := ev.Outcome
	if outcome == "" {
		outcome = model.OutcomeSuccess
	}
	return model.AuditLogEntry{
		RequestID:    uuid.NewString(),
		SessionID:    b.sessionID,
		UserID:       actor.UserID,
		UserName:     actor.UserName,
		UserRole:     actor.Role,
		Action:       ev.Action,
		Module:       ev.Module,
		Description:  ev.Description,
		Outcome:      outcome,
		ErrorCode:    ev.ErrorCode,
		ErrorMessage: ev.ErrorMessage,
		Timestamp:    b.clock.Now().UTC(),
		Location:     ev.Location,
		UserAgent:    ev.UserAgent,
		IPAddress:    ev.IPAddress,
	}
}

// Log builds an entry and records it.
func (b *Buffer) Log(actor Actor, ev Event) {
	if b == nil {
		return
	}
	b.Record(b.NewEntry(actor, ev))
}

// LogError records a failure outcome carrying err's message.
func (b *Buffer) LogError(actor Actor, ev Event, code string, err error) {
	if b == nil {
		return
	}
	ev.Outcome = model.OutcomeFailure
	ev.ErrorCode = code
	if err != nil {
		ev.ErrorMessage = err.Error()
	}
	b.Record(b.NewEntry(actor, ev))
}
