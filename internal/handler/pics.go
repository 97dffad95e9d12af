package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"sar/internal/auth"
	"sar/internal/model"
	"sar/internal/response"
)

const modulePic = "PIC"

type PicRepository interface {
	ListPics(ctx context.Context, f model.PicFilter) ([]model.PicUser, error)
	GetPic(ctx context.Context, id int64) (model.PicUser, error)
	CreatePic(ctx context.Context, p model.PicUser) (model.PicUser, error)
	UpdatePic(ctx context.Context, p model.PicUser) error
	DeletePic(ctx context.Context, id int64) error
}

type PicHandler struct {
	repo     PicRepository
	activity *Activity
	log      logrus.FieldLogger
}

func NewPicHandler(repo PicRepository, activity *Activity, logger logrus.FieldLogger) *PicHandler {
	return &PicHandler{repo: repo, activity: activity, log: logger.WithField("handler", "pic")}
}

func (h *PicHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListPics(r.Context(), model.PicFilterFrom(r.URL.Query()))
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, items)
}

func (h *PicHandler) Create(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: modulePic, Function: "CreatePic", Action: model.ActionCreate, Started: h.activity.Now()}
	var in model.PicUser
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
	op.Detail = fmt.Sprintf("pic name=%s division=%s", in.Name, in.Division)

	created, err := h.repo.CreatePic(r.Context(), in)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.Created(w, created)
}

func (h *PicHandler) Update(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: modulePic, Function: "UpdatePic", Action: model.ActionUpdate, Started: h.activity.Now()}
	id, err := pathID(r)
	if err != nil {
		response.Err(w, err)
		return
	}
	var in model.PicUser
	if err := decodeJSON(w, r, &in); err != nil {
		response.Err(w, err)
		return
	}
	existing, err := h.repo.GetPic(r.Context(), id)
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
	op.Detail = fmt.Sprintf("pic id=%d", id)

	err = h.repo.UpdatePic(r.Context(), in)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, in)
}

func (h *PicHandler) Delete(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: modulePic, Function: "DeletePic", Action: model.ActionDelete, Started: h.activity.Now()}
	id, err := pathID(r)
	if err != nil {
		response.Err(w, err)
		return
	}
	op.Detail = fmt.Sprintf("pic id=%d", id)
	err = h.repo.DeletePic(r.Context(), id)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, map[string]int64{"id": id})
}
