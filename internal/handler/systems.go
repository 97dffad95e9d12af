package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sar/internal/apperr"
	"sar/internal/auth"
	"sar/internal/model"
	"sar/internal/response"
)

const moduleSystem = "System Master"

type SystemRepository interface {
	ListSystems(ctx context.Context, f model.SystemFilter) ([]model.SystemMaster, error)
	GetSystem(ctx context.Context, k model.SystemKey) (model.SystemMaster, error)
	CreateSystem(ctx context.Context, s model.SystemMaster) (model.SystemMaster, error)
	UpdateSystem(ctx context.Context, k model.SystemKey, s model.SystemMaster) error
	SetSystemStatus(ctx context.Context, k model.SystemKey, status, by string, at time.Time) error
	DeleteSystem(ctx context.Context, k model.SystemKey) error
}

type SystemHandler struct {
	repo     SystemRepository
	activity *Activity
	log      logrus.FieldLogger
}

func NewSystemHandler(repo SystemRepository, activity *Activity, logger logrus.FieldLogger) *SystemHandler {
	return &SystemHandler{repo: repo, activity: activity, log: logger.WithField("handler", "system-master")}
}

func describeKey(k model.SystemKey) string {
	return strings.Join(k.Segments(), "/")
}

func (h *SystemHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListSystems(r.Context(), model.SystemFilterFrom(r.URL.Query()))
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, items)
}

func (h *SystemHandler) Create(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: moduleSystem, Function: "CreateSystem", Action: model.ActionCreate, Started: h.activity.Now()}
	var in model.SystemMaster
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
	op.Detail = "system " + describeKey(in.Key())

	created, err := h.repo.CreateSystem(r.Context(), in)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.Created(w, created)
}

// Update rewrites the non-key fields. A body whose key differs from the
// path is rejected; changing identity means delete and create.
func (h *SystemHandler) Update(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: moduleSystem, Function: "UpdateSystem", Action: model.ActionUpdate, Started: h.activity.Now()}
	key, err := pathSystemKey(r)
	if err != nil {
		response.Err(w, err)
		return
	}
	var in model.SystemMaster
	if err := decodeJSON(w, r, &in); err != nil {
		response.Err(w, err)
		return
	}
	if in.SystemType == "" && in.SystemCode == "" && in.ValidFrom.IsZero() {
		in.SystemType, in.SystemCode, in.ValidFrom = key.SystemType, key.SystemCode, key.ValidFrom
	}
	if in.SystemType != key.SystemType || in.SystemCode != key.SystemCode || !sameDate(in.ValidFrom, key.ValidFrom) {
		response.Err(w, apperr.Invalid("systemCode", "the record key cannot be changed"))
		return
	}

	existing, err := h.repo.GetSystem(r.Context(), key)
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
	in.ID = existing.ID
	in.ValidFrom = existing.ValidFrom
	in.AuditFields = existing.AuditFields
	in.StampChanged(p.Username, h.activity.Now())
	op.Detail = "system " + describeKey(key)

	err = h.repo.UpdateSystem(r.Context(), key, in)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, in)
}

func sameDate(a, b time.Time) bool {
	return a.Format(model.DateLayout) == b.Format(model.DateLayout)
}

func (h *SystemHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: moduleSystem, Function: "SetSystemStatus", Action: model.ActionStatusChange, Started: h.activity.Now()}
	key, err := pathSystemKey(r)
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
	op.Detail = fmt.Sprintf("system %s status=%s", describeKey(key), in.Status)
	err = h.repo.SetSystemStatus(r.Context(), key, in.Status, p.Username, h.activity.Now())
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}

	updated, err := h.repo.GetSystem(r.Context(), key)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, updated)
}

func (h *SystemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: moduleSystem, Function: "DeleteSystem", Action: model.ActionDelete, Started: h.activity.Now()}
	key, err := pathSystemKey(r)
	if err != nil {
		response.Err(w, err)
		return
	}
	op.Detail = "system " + describeKey(key)
	err = h.repo.DeleteSystem(r.Context(), key)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, map[string]string{
		"systemType": key.SystemType,
		"systemCode": key.SystemCode,
		"validFrom":  key.ValidFrom.Format(model.DateLayout),
	})
}
