package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"sar/internal/apperr"
	"sar/internal/model"
	"sar/internal/response"
	"sar/internal/store"
)

type ProgressRepository interface {
	ListProgress(ctx context.Context, f model.ProgressFilter) ([]model.UARProgress, error)
	UpsertProgress(ctx context.Context, rows []model.UARProgress) error
}

const (
	moduleProgress  = "UAR Progress"
	maxImportedRows = 5000
)

type ProgressHandler struct {
	repo     ProgressRepository
	activity *Activity
	log      logrus.FieldLogger
}

func NewProgressHandler(repo ProgressRepository, activity *Activity, logger logrus.FieldLogger) *ProgressHandler {
	return &ProgressHandler{repo: repo, activity: activity, log: logger.WithField("handler", "uar-progress")}
}

func (h *ProgressHandler) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.repo.ListProgress(r.Context(), model.ProgressFilterFrom(r.URL.Query()))
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, rows)
}

type progressSummary struct {
	GrandTotal float64         `json:"grandTotal"`
	Divisions  []store.Summary `json:"divisions"`
	Systems    []store.Summary `json:"systems"`
}

// Summary aggregates the matching rows the same way the dashboard does.
func (h *ProgressHandler) Summary(w http.ResponseWriter, r *http.Request) {
	f := model.ProgressFilterFrom(r.URL.Query())
	rows, err := h.repo.ListProgress(r.Context(), f)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	if rows == nil {
		rows = []model.UARProgress{}
	}
	ps := store.NewProgressStore()
	ps.SetData(rows)
	response.OK(w, progressSummary{
		GrandTotal: ps.GrandTotal(),
		Divisions:  ps.DivisionSummary(),
		Systems:    ps.SystemSummary(),
	})
}

type importRequest struct {
	Rows []model.UARProgress `json:"rows"`
}

func validProgress(i int, p model.UARProgress) error {
	field := fmt.Sprintf("rows[%d]", i)
	if _, err := model.ParsePeriod(p.Period); err != nil {
		return apperr.Invalid(field+".period", "must be in MM-YYYY form")
	}
	if p.DivisionID == "" || p.SystemID == "" {
		return apperr.Invalid(field, "divisionId and systemId are required")
	}
	if p.Total < 0 || p.Completed < 0 || p.Completed > p.Total {
		return apperr.Invalid(field, "completed must be between 0 and total")
	}
	return nil
}

// Import upserts progress rows produced by the review workflow.
func (h *ProgressHandler) Import(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: moduleProgress, Function: "ImportProgress", Action: model.ActionUpdate, Started: h.activity.Now()}
	var in importRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.Err(w, err)
		return
	}
	if len(in.Rows) == 0 || len(in.Rows) > maxImportedRows {
		response.Err(w, apperr.Invalid("rows", "must hold between 1 and %d rows", maxImportedRows))
		return
	}
	for i, p := range in.Rows {
		if err := validProgress(i, p); err != nil {
			response.Err(w, err)
			return
		}
	}
	op.Detail = fmt.Sprintf("imported %d progress rows", len(in.Rows))
	err := h.repo.UpsertProgress(r.Context(), in.Rows)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, map[string]int{"imported": len(in.Rows)})
}
