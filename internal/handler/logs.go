package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"sar/internal/apperr"
	"sar/internal/model"
	"sar/internal/response"
)

const (
	defaultLogLimit = 500
	maxLogLimit     = 5000
)

type LogRepository interface {
	ListLogs(ctx context.Context, f model.LogFilter, limit uint64) ([]model.LogEntry, error)
	GetLog(ctx context.Context, id int64) (model.LogEntry, error)
}

type LogHandler struct {
	repo LogRepository
	log  logrus.FieldLogger
}

func NewLogHandler(repo LogRepository, logger logrus.FieldLogger) *LogHandler {
	return &LogHandler{repo: repo, log: logger.WithField("handler", "logs")}
}

func (h *LogHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultLogLimit, maxLogLimit)
	if err != nil {
		response.Err(w, err)
		return
	}
	items, err := h.repo.ListLogs(r.Context(), model.LogFilterFrom(r.URL.Query()), limit)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, items)
}

func (h *LogHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		response.Err(w, err)
		return
	}
	entry, err := h.repo.GetLog(r.Context(), id)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, entry)
}

func queryLimit(r *http.Request, def, max uint64) (uint64, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, apperr.Invalid("limit", "must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
