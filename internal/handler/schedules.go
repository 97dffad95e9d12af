package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"sar/internal/auth"
	"sar/internal/model"
	"sar/internal/response"
)

const moduleSchedule = "UAR Schedule"

type ScheduleRepository interface {
	ListSchedules(ctx context.Context, f model.ScheduleFilter) ([]model.Schedule, error)
	GetSchedule(ctx context.Context, id int64) (model.Schedule, error)
	CreateSchedule(ctx context.Context, s model.Schedule) (model.Schedule, error)
	UpdateSchedule(ctx context.Context, s model.Schedule) error
	SetScheduleStatus(ctx context.Context, id int64, status, by string, at time.Time) error
	DeleteSchedule(ctx context.Context, id int64) error
}

type ScheduleHandler struct {
	repo     ScheduleRepository
	activity *Activity
	log      logrus.FieldLogger
}

func NewScheduleHandler(repo ScheduleRepository, activity *Activity, logger logrus.FieldLogger) *ScheduleHandler {
	return &ScheduleHandler{repo: repo, activity: activity, log: logger.WithField("handler", "schedules")}
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListSchedules(r.Context(), model.ScheduleFilterFrom(r.URL.Query()))
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, items)
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: moduleSchedule, Function: "CreateSchedule", Action: model.ActionCreate, Started: h.activity.Now()}
	var in model.Schedule
	if err := decodeJSON(w, r, &in); err != nil {
		response.Err(w, err)
		return
	}
	if in.Status == "" {
		in.Status = model.StatusActive
	}
	if err := in.Validate(); err != nil {
		response.Err(w, err)
		return
	}
	if err := model.ValidateStatus(in.Status); err != nil {
		response.Err(w, err)
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	in.ID = 0
	in.AuditFields = model.AuditFields{}
	in.StampCreated(p.Username, h.activity.Now())
	op.Detail = fmt.Sprintf("schedule period=%s", in.Period)

	created, err := h.repo.CreateSchedule(r.Context(), in)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.Created(w, created)
}

func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: moduleSchedule, Function: "UpdateSchedule", Action: model.ActionUpdate, Started: h.activity.Now()}
	id, err := pathID(r)
	if err != nil {
		response.Err(w, err)
		return
	}
	var in model.Schedule
	if err := decodeJSON(w, r, &in); err != nil {
		response.Err(w, err)
		return
	}

	existing, err := h.repo.GetSchedule(r.Context(), id)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	if in.Status == "" {
		in.Status = existing.Status
	}
	if err := in.Validate(); err != nil {
		response.Err(w, err)
		return
	}
	if err := model.ValidateStatus(in.Status); err != nil {
		response.Err(w, err)
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	in.ID = id
	in.AuditFields = existing.AuditFields
	in.StampChanged(p.Username, h.activity.Now())
	op.Detail = fmt.Sprintf("schedule id=%d period=%s", id, in.Period)

	err = h.repo.UpdateSchedule(r.Context(), in)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, in)
}

func (h *ScheduleHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: moduleSchedule, Function: "SetScheduleStatus", Action: model.ActionStatusChange, Started: h.activity.Now()}
	id, err := pathID(r)
	if err != nil {
		response.Err(w, err)
		return
	}
	var in statusRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.Err(w, err)
		return
	}
	if err := model.ValidateStatus(in.Status); err != nil {
		response.Err(w, err)
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	op.Detail = fmt.Sprintf("schedule id=%d status=%s", id, in.Status)
	err = h.repo.SetScheduleStatus(r.Context(), id, in.Status, p.Username, h.activity.Now())
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}

	updated, err := h.repo.GetSchedule(r.Context(), id)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, updated)
}

func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: moduleSchedule, Function: "DeleteSchedule", Action: model.ActionDelete, Started: h.activity.Now()}
	id, err := pathID(r)
	if err != nil {
		response.Err(w, err)
		return
	}
	op.Detail = fmt.Sprintf("schedule id=%d", id)
	err = h.repo.DeleteSchedule(r.Context(), id)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, map[string]int64{"id": id})
}
