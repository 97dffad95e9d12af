// Package handler implements the /sar REST endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"sar/internal/apperr"
	"sar/internal/audit"
	"sar/internal/auth"
	"sar/internal/model"
	"sar/internal/response"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads one JSON document from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("", "request body is required")
		}
		return apperr.Invalid("", "invalid JSON body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("id", "must be a positive integer")
	}
	return id, nil
}

// pathSystemKey reads the compound identity of a system master record.
func pathSystemKey(r *http.Request) (model.SystemKey, error) {
	from, err := time.Parse(model.DateLayout, r.PathValue("validFrom"))
	if err != nil {
		return model.SystemKey{}, apperr.Invalid("validFrom", "must be a date in YYYY-MM-DD form")
	}
	return model.SystemKey{
		SystemType: r.PathValue("type"),
		SystemCode: r.PathValue("code"),
		ValidFrom:  from,
	}, nil
}

type statusRequest struct {
	Status string `json:"status"`
}

// clientIP extracts the caller address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// LogWriter stores process log rows.
type LogWriter interface {
	CreateLog(ctx context.Context, l model.LogEntry) (model.LogEntry, error)
}

// Activity records the process log row and the audit entry that every
// mutating request leaves behind.
type Activity struct {
	logs  LogWriter
	audit *audit.Buffer
	clock clockwork.Clock
	log   logrus.FieldLogger
}

func NewActivity(logs LogWriter, buf *audit.Buffer, clock clockwork.Clock, logger logrus.FieldLogger) *Activity {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Activity{logs: logs, audit: buf, clock: clock, log: logger.WithField("component", "activity")}
}

func (a *Activity) Now() time.Time { return a.clock.Now().UTC() }

// Op describes one handled operation.
type Op struct {
	Module   string
	Function string
	Action   model.ActionKind
	Detail   string
	Started  time.Time
}

// Record writes the outcome of op. err == nil means success.
func (a *Activity) Record(r *http.Request, op Op, err error) {
	p, _ := auth.PrincipalFrom(r.Context())
	user := p.Username
	if user == "" {
		user = "anonymous"
	}

	ended := a.Now()
	started := op.Started
	if started.IsZero() {
		started = ended
	}
	entry := model.LogEntry{
		Module:    op.Module,
		Function:  op.Function,
		Status:    model.ProcessSuccess,
		User:      user,
		Details:   op.Detail,
		StartedAt: started,
		EndedAt:   &ended,
	}
	if err != nil {
		entry.Status = model.ProcessError
		entry.Details = strings.TrimSpace(fmt.Sprintf("%s: %v", op.Detail, err))
	}
	if a.logs != nil {
		if _, lerr := a.logs.CreateLog(r.Context(), entry); lerr != nil {
			a.log.WithError(lerr).WithField("function", op.Function).Warn("writing process log")
		}
	}

	actor := audit.Actor{UserID: p.Username, UserName: p.Name, Role: p.Role}
	if actor.UserName == "" {
		actor.UserName = user
	}
	ev := audit.Event{
		Action:      op.Action,
		Module:      op.Module,
		Description: op.Detail,
		Location:    r.URL.Path,
		UserAgent:   r.UserAgent(),
		IPAddress:   clientIP(r),
	}
	if err != nil {
		a.audit.LogError(actor, ev, apperr.Code(err), err)
		return
	}
	a.audit.Log(actor, ev)
}

// fail answers with err and logs it when it is not a client error.
func fail(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	response.Err(w, err)
}
