package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"sar/internal/apperr"
	"sar/internal/audit"
	"sar/internal/auth"
	"sar/internal/model"
	"sar/internal/response"
)

const moduleAuth = "Authentication"

// Authenticator is the part of auth.Service the handlers use.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.LoginResult, error)
	Logout(ctx context.Context, refreshToken string) error
}

type AuthHandler struct {
	svc   Authenticator
	audit *audit.Buffer
	log   logrus.FieldLogger
}

func NewAuthHandler(svc Authenticator, buf *audit.Buffer, logger logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{svc: svc, audit: buf, log: logger.WithField("handler", "auth")}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) event(r *http.Request, action model.ActionKind, desc string) audit.Event {
	return audit.Event{
		Action:      action,
		Module:      moduleAuth,
		Description: desc,
		Location:    r.URL.Path,
		UserAgent:   r.UserAgent(),
		IPAddress:   clientIP(r),
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.Err(w, err)
		return
	}

	res, err := h.svc.Login(r.Context(), in.Username, in.Password)
	if err != nil {
		actor := audit.Actor{UserID: in.Username, UserName: in.Username}
		ev := h.event(r, model.ActionLogin, "login rejected")
		if errors.Is(err, apperr.ErrAccountLocked) {
			h.audit.LogError(actor, ev, apperr.Code(err), err)
		} else {
			ev.Outcome = model.OutcomeWarning
			ev.ErrorCode = apperr.Code(err)
			ev.ErrorMessage = err.Error()
			h.audit.Log(actor, ev)
		}
		fail(w, h.log, err)
		return
	}

	h.audit.Log(audit.Actor{UserID: res.User.Username, UserName: res.User.Name, Role: res.User.Role},
		h.event(r, model.ActionLogin, "login via "+res.User.AuthSource))
	response.Success(w, http.StatusOK, "Login successful", res)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.Err(w, err)
		return
	}
	if in.RefreshToken == "" {
		response.Err(w, apperr.Invalid("refreshToken", "is required"))
		return
	}
	res, err := h.svc.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	h.audit.Log(audit.Actor{UserID: res.User.Username, UserName: res.User.Name, Role: res.User.Role},
		h.event(r, model.ActionRefresh, "token refreshed"))
	response.OK(w, res)
}

// Logout revokes the refresh token. It succeeds for unknown tokens so the
// client can always drop its local session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			response.Err(w, err)
			return
		}
	}
	if err := h.svc.Logout(r.Context(), in.RefreshToken); err != nil {
		fail(w, h.log, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	h.audit.Log(audit.Actor{UserID: p.Username, UserName: p.Name, Role: p.Role},
		h.event(r, model.ActionLogout, "logout"))
	response.Success(w, http.StatusOK, "Logged out", nil)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		response.Unauthorized(w, "authentication required")
		return
	}
	response.OK(w, model.User{Username: p.Username, Name: p.Name, Role: p.Role, Active: true})
}
