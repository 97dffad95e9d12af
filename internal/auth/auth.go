package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"sar/internal/apperr"
	"sar/internal/model"
	"sar/internal/response"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Username  string
	Name      string
	Role      string
	SessionID string
}

func (p Principal) IsAdmin() bool { return p.Role == model.RoleAdmin }

// CanWrite reports whether the role may mutate review data.
func (p Principal) CanWrite() bool {
	return p.Role == model.RoleAdmin || p.Role == model.RoleReviewer
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Verifier validates access tokens. *Service implements it.
type Verifier interface {
	Authenticate(token string) (*Claims, error)
}

// Middleware guards handlers with bearer access tokens.
type Middleware struct {
	v Verifier
}

func NewMiddleware(v Verifier) *Middleware {
	return &Middleware{v: v}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (m *Middleware) principal(r *http.Request) (Principal, error) {
	claims, err := m.v.Authenticate(bearer(r))
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		Username:  claims.Subject,
		Name:      claims.Name,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	}, nil
}

func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := m.principal(r)
		if err != nil {
			msg := "authentication required"
			if errors.Is(err, apperr.ErrSessionExpired) {
				msg = "session expired"
			}
			response.Unauthorized(w, msg)
			return
		}
		next(w, r.WithContext(WithPrincipal(r.Context(), p)))
	}
}

// Optional attaches the principal when the request carries a valid token
// and passes every request through.
func (m *Middleware) Optional(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p, err := m.principal(r); err == nil {
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next(w, r)
	}
}

// RequireWriter admits Admin and Reviewer roles.
func (m *Middleware) RequireWriter(next http.HandlerFunc) http.HandlerFunc {
	return m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFrom(r.Context())
		if !p.CanWrite() {
			response.Forbidden(w, "Forbidden")
			return
		}
		next(w, r)
	})
}

func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFrom(r.Context())
		if !p.IsAdmin() {
			response.Forbidden(w, "Forbidden")
			return
		}
		next(w, r)
	})
}
