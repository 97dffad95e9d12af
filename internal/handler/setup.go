package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"sar/internal/model"
	"sar/internal/response"
)

type SetupRepository interface {
	HasUsers(ctx context.Context) (bool, error)
	CreateUser(ctx context.Context, u model.User, password string) (model.User, error)
}

// SetupHandler creates the first administrator on an empty users table.
type SetupHandler struct {
	repo SetupRepository
	log  logrus.FieldLogger
	mu   sync.Mutex
}

func NewSetupHandler(repo SetupRepository, logger logrus.FieldLogger) *SetupHandler {
	return &SetupHandler{repo: repo, log: logger.WithField("handler", "setup")}
}

func (h *SetupHandler) Status(w http.ResponseWriter, r *http.Request) {
	hasUsers, err := h.repo.HasUsers(r.Context())
	if err != nil {
		fail(w, h.log, err)
		return
	}
	response.OK(w, map[string]bool{"required": !hasUsers})
}

func (h *SetupHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hasUsers, err := h.repo.HasUsers(r.Context())
	if err != nil {
		fail(w, h.log, err)
		return
	}
	if hasUsers {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "setup already completed")
		return
	}

	var in createUserRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.Err(w, err)
		return
	}
	in.Role = model.RoleAdmin
	if err := in.validate(); err != nil {
		response.Err(w, err)
		return
	}

	u, err := h.repo.CreateUser(r.Context(), model.User{
		Username: strings.TrimSpace(in.Username),
		Name:     in.Name,
		Email:    in.Email,
		Role:     model.RoleAdmin,
		Division: in.Division,
	}, in.Password)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	h.log.WithField("username", u.Username).Info("initial administrator created")
	response.Created(w, u)
}
