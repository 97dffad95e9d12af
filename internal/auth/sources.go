package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"sar/internal/apperr"
	"sar/internal/config"
	"sar/internal/model"
)

// ErrUnknownUser tells the Service to try the next Source.
var ErrUnknownUser = errors.New("user not known to this source")

// Source verifies credentials against one user directory. It returns
// ErrUnknownUser when it has no such user, apperr.ErrInvalidCredentials on
// a wrong password, and the user without credentials on success.
type Source interface {
	Name() string
	Authenticate(ctx context.Context, username, password string) (model.User, error)
}

// UserLookup is the part of the user repository the DB source needs.
type UserLookup interface {
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
}

// DBSource checks bcrypt hashes stored in the users table.
type DBSource struct {
	users UserLookup
}

func NewDBSource(users UserLookup) *DBSource {
	return &DBSource{users: users}
}

func (s *DBSource) Name() string { return "local" }

func (s *DBSource) Authenticate(ctx context.Context, username, password string) (model.User, error) {
	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return model.User{}, fmt.Errorf("auth.DBSource lookup: %w", err)
	}
	if u == nil || u.PassHash == "" {
		return model.User{}, ErrUnknownUser
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PassHash), []byte(password)) != nil {
		return model.User{}, apperr.ErrInvalidCredentials
	}
	if !u.Active {
		return model.User{}, apperr.ErrAccountDisabled
	}
	return u.Public(), nil
}

type directoryUser struct {
	user model.User
	hash []byte
}

// StaticSource serves a fixed user list with bcrypt hashes, either from
// configuration or the built-in demo directory.
type StaticSource struct {
	name  string
	users map[string]directoryUser
}

func (s *StaticSource) Name() string { return s.name }

func (s *StaticSource) Authenticate(_ context.Context, username, password string) (model.User, error) {
	du, ok := s.users[strings.ToLower(username)]
	if !ok {
		return model.User{}, ErrUnknownUser
	}
	if bcrypt.CompareHashAndPassword(du.hash, []byte(password)) != nil {
		return model.User{}, apperr.ErrInvalidCredentials
	}
	return du.user, nil
}

// Users lists the directory without credentials.
func (s *StaticSource) Users() []model.User {
	out := make([]model.User, 0, len(s.users))
	for _, du := range s.users {
		out = append(out, du.user)
	}
	return out
}

func NewStaticSource(users []config.StaticUser) (*StaticSource, error) {
	s := &StaticSource{name: "static", users: make(map[string]directoryUser, len(users))}
	for _, u := range users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("auth: static user needs username and password_hash")
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("auth: static user %s: password_hash is not a bcrypt hash: %w", u.Username, err)
		}
		s.users[strings.ToLower(u.Username)] = directoryUser{
			user: model.User{
				Username:   u.Username,
				Name:       u.Name,
				Role:       u.Role,
				Division:   u.Division,
				Active:     true,
				AuthSource: "static",
			},
			hash: []byte(u.PasswordHash),
		}
	}
	return s, nil
}

// DemoPassword is shared by every demo account.
const DemoPassword = "password123"

var demoAccounts = []model.User{
	{Username: "admin", Name: "System Administrator", Email: "admin@sar.local", Role: model.RoleAdmin, Division: "ITD"},
	{Username: "reviewer", Name: "Access Reviewer", Email: "reviewer@sar.local", Role: model.RoleReviewer, Division: "FIN"},
	{Username: "viewer", Name: "Read Only", Email: "viewer@sar.local", Role: model.RoleViewer, Division: "HRD"},
}

// NewDemoSource builds the development directory. Hashes are computed at
// start-up with the minimum bcrypt cost.
func NewDemoSource() (*StaticSource, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash demo password: %w", err)
	}
	s := &StaticSource{name: "demo", users: make(map[string]directoryUser, len(demoAccounts))}
	for i, u := range demoAccounts {
		u.ID = int64(i + 1)
		u.Active = true
		u.AuthSource = "demo"
		s.users[u.Username] = directoryUser{user: u, hash: hash}
	}
	return s, nil
}
