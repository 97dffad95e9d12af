package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"sar/internal/apperr"
	"sar/internal/auth"
	"sar/internal/model"
	"sar/internal/response"
)

const (
	moduleUsers       = "User Management"
	minPasswordLength = 8
)

type UserRepository interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	CreateUser(ctx context.Context, u model.User, password string) (model.User, error)
	SetUserActive(ctx context.Context, username string, active bool) error
	DeleteUser(ctx context.Context, username string) error
}

type AdminHandler struct {
	repo     UserRepository
	activity *Activity
	log      logrus.FieldLogger
}

func NewAdminHandler(repo UserRepository, activity *Activity, logger logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{repo: repo, activity: activity, log: logger.WithField("handler", "admin")}
}

func validRole(role string) bool {
	switch role {
	case model.RoleAdmin, model.RoleReviewer, model.RoleViewer:
		return true
	}
	return false
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.repo.ListUsers(r.Context())
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, users)
}

type createUserRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Division string `json:"division"`
}

func (in createUserRequest) validate() error {
	if strings.TrimSpace(in.Username) == "" {
		return apperr.Invalid("username", "is required")
	}
	if len(in.Password) < minPasswordLength {
		return apperr.Invalid("password", "must be at least %d characters", minPasswordLength)
	}
	if !validRole(in.Role) {
		return apperr.Invalid("role", "must be Admin, Reviewer or Viewer")
	}
	return nil
}

func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: moduleUsers, Function: "CreateUser", Action: model.ActionCreate, Started: h.activity.Now()}
	var in createUserRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.Err(w, err)
		return
	}
	if err := in.validate(); err != nil {
		response.Err(w, err)
		return
	}

	op.Detail = fmt.Sprintf("created user=%s role=%s", in.Username, in.Role)
	u, err := h.repo.CreateUser(r.Context(), model.User{
		Username: strings.TrimSpace(in.Username),
		Name:     in.Name,
		Email:    in.Email,
		Role:     in.Role,
		Division: in.Division,
	}, in.Password)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.Created(w, u)
}

type activeRequest struct {
	Active bool `json:"active"`
}

func (h *AdminHandler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: moduleUsers, Function: "SetUserActive", Action: model.ActionStatusChange, Started: h.activity.Now()}
	target := r.PathValue("username")
	var in activeRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.Err(w, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	if !in.Active && strings.EqualFold(target, p.Username) {
		response.Err(w, apperr.Invalid("username", "cannot deactivate yourself"))
		return
	}

	op.Detail = fmt.Sprintf("user=%s active=%t", target, in.Active)
	err := h.repo.SetUserActive(r.Context(), target, in.Active)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, map[string]any{"username": target, "active": in.Active})
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	op := Op{Module: moduleUsers, Function: "DeleteUser", Action: model.ActionDelete, Started: h.activity.Now()}
	target := r.PathValue("username")
	p, _ := auth.PrincipalFrom(r.Context())
	if strings.EqualFold(target, p.Username) {
		response.Err(w, apperr.Invalid("username", "cannot delete yourself"))
		return
	}

	op.Detail = "deleted user=" + target
	err := h.repo.DeleteUser(r.Context(), target)
	h.activity.Record(r, op, err)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, map[string]string{"username": target})
}
