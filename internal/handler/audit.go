package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"sar/internal/apperr"
	"sar/internal/archive"
	"sar/internal/audit"
	"sar/internal/auth"
	"sar/internal/model"
	"sar/internal/response"
)

const (
	moduleAudit       = "Audit Log"
	maxIngestBatch    = 500
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type AuditRepository interface {
	audit.Sender
	ListAudit(ctx context.Context, f model.AuditFilter, limit, offset uint64) ([]model.AuditLogEntry, int, error)
}

// Archiver exports a stored range. *archive.Exporter implements it.
type Archiver interface {
	Export(ctx context.Context, from, to time.Time, f archive.Format) (archive.Result, error)
}

type AuditHandler struct {
	repo     AuditRepository
	archiver Archiver
	activity *Activity
	log      logrus.FieldLogger
}

// NewAuditHandler builds the handler. archiver may be nil when archiving
// is disabled.
func NewAuditHandler(repo AuditRepository, archiver Archiver, activity *Activity, logger logrus.FieldLogger) *AuditHandler {
	return &AuditHandler{repo: repo, archiver: archiver, activity: activity, log: logger.WithField("handler", "audit")}
}

type ingestResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Ingest stores either a single entry or a batch {"entries": [...]}.
// Entries without an action or with an unknown outcome are counted as
// rejected and skipped. The caller's principal always overwrites the
// entry's actor; anonymous callers may only report logins and logouts.
func (h *AuditHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		response.Err(w, apperr.Invalid("", "invalid JSON body: %v", err))
		return
	}

	entries, err := parseIngest(raw)
	if err != nil {
		response.Err(w, err)
		return
	}
	if len(entries) > maxIngestBatch {
		response.Err(w, apperr.Invalid("entries", "at most %d entries per request", maxIngestBatch))
		return
	}

	p, authed := auth.PrincipalFrom(r.Context())
	ip := clientIP(r)
	valid := make([]model.AuditLogEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Valid() || e.RequestID == "" {
			continue
		}
		e.ID = 0
		if e.IPAddress == "" {
			e.IPAddress = ip
		}
		if authed {
			e.UserID, e.UserName, e.UserRole = p.Username, p.Name, p.Role
		} else if e.Action != model.ActionLogin && e.Action != model.ActionLogout {
			continue
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = h.activity.Now()
		}
		valid = append(valid, e)
	}

	if err := h.repo.SendAudit(r.Context(), valid); err != nil {
		fail(w, h.log, err)
		return
	}
	response.Created(w, ingestResult{Accepted: len(valid), Rejected: len(entries) - len(valid)})
}

func parseIngest(raw json.RawMessage) ([]model.AuditLogEntry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, apperr.Invalid("", "body must be an audit entry or {\"entries\": [...]}")
	}
	var batch struct {
		Entries []model.AuditLogEntry `json:"entries"`
	}
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, apperr.Invalid("entries", "%v", err)
	}
	if batch.Entries != nil {
		return batch.Entries, nil
	}
	var single model.AuditLogEntry
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, apperr.Invalid("", "%v", err)
	}
	return []model.AuditLogEntry{single}, nil
}

type auditPage struct {
	Entries    []model.AuditLogEntry `json:"entries"`
	Page       int                   `json:"page"`
	Limit      int                   `json:"limit"`
	Total      int                   `json:"total"`
	TotalPages int                   `json:"totalPages"`
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, err := queryLimit(r, defaultAuditLimit, maxAuditLimit)
	if err != nil {
		response.Err(w, err)
		return
	}
	offset := uint64(page-1) * limit

	entries, total, err := h.repo.ListAudit(r.Context(), model.AuditFilterFrom(r.URL.Query()), limit, offset)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, auditPage{
		Entries:    entries,
		Page:       page,
		Limit:      int(limit),
		Total:      total,
		TotalPages: (total + int(limit) - 1) / int(limit),
	})
}

type archiveRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Format string `json:"format"`
}

// Archive exports [from, to) to S3. Dates are YYYY-MM-DD and to is
// inclusive of its whole day.
func (h *AuditHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		response.Error(w, http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "audit archiving is not configured")
		return
	}
	op := Op{Module: moduleAudit, Function: "ArchiveAudit", Action: model.ActionExport, Started: h.activity.Now()}
	var in archiveRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.Err(w, err)
		return
	}
	from, err := time.Parse(model.DateLayout, in.From)
	if err != nil {
		response.Err(w, apperr.Invalid("from", "must be a date in YYYY-MM-DD form"))
		return
	}
	to, err := time.Parse(model.DateLayout, in.To)
	if err != nil {
		response.Err(w, apperr.Invalid("to", "must be a date in YYYY-MM-DD form"))
		return
	}
	format, err := archive.ParseFormat(in.Format)
	if err != nil {
		response.Err(w, err)
		return
	}

	op.Detail = "archive " + in.From + ".." + in.To + " " + string(format)
	res, err := h.archiver.Export(r.Context(), from, to.AddDate(0, 0, 1), format)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, res)
}
