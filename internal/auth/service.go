// Package auth signs users in against LDAP, the users table, static
// configuration or the demo directory, issues JWT access tokens with
// rotating refresh tokens, and locks usernames after repeated failures.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"sar/internal/apperr"
	"sar/internal/metrics"
	"sar/internal/model"
)

// SessionStore persists refresh token hashes.
type SessionStore interface {
	CreateSession(ctx context.Context, s model.Session) error
	// GetSession returns nil when no session has the hash.
	GetSession(ctx context.Context, tokenHash string) (*model.Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
}

type LoginResult struct {
	User         model.User `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expiresIn"`
}

type Config struct {
	Sources    []Source
	Tracker    AttemptTracker
	Tokens     *TokenManager
	Sessions   SessionStore
	RefreshTTL time.Duration
	Clock      clockwork.Clock
	Logger     logrus.FieldLogger
	Metrics    *metrics.Metrics

	// OnSuccess runs after every successful login.
	OnSuccess func(ctx context.Context, u model.User)
	// OnFailure runs after every rejected login with the reason.
	OnFailure func(ctx context.Context, username string, err error)
}

type Service struct {
	cfg Config
	log logrus.FieldLogger
}

func NewService(cfg Config) (*Service, error) {
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("auth: at least one credential source is required")
	}
	if cfg.Tokens == nil || cfg.Sessions == nil || cfg.Tracker == nil {
		return nil, fmt.Errorf("auth: Tokens, Sessions and Tracker are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 24 * time.Hour
	}
	return &Service{cfg: cfg, log: cfg.Logger.WithField("component", "auth")}, nil
}

// Login verifies credentials and opens a session. Unknown users and wrong
// passwords both yield apperr.ErrInvalidCredentials. A locked username is
// refused with apperr.ErrAccountLocked before any source is consulted.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, s.fail(ctx, username, apperr.ErrInvalidCredentials)
	}

	locked, remaining, err := s.cfg.Tracker.Locked(ctx, username)
	if err != nil {
		s.log.WithError(err).Error("lockout check failed")
		return nil, fmt.Errorf("auth.Login lockout check: %w", err)
	}
	if locked {
		return nil, s.fail(ctx, username, fmt.Errorf("%w (try again in %s)", apperr.ErrAccountLocked, remaining.Round(time.Second)))
	}

	user, err := s.authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidCredentials) {
			nowLocked, trackErr := s.cfg.Tracker.Fail(ctx, username)
			if trackErr != nil {
				s.log.WithError(trackErr).Error("recording failed login")
			}
			if nowLocked {
				s.log.WithField("username", username).Warn("username locked after repeated failures")
			}
		}
		return nil, s.fail(ctx, username, err)
	}

	if err := s.cfg.Tracker.Reset(ctx, username); err != nil {
		s.log.WithError(err).Warn("resetting failed login count")
	}

	res, err := s.openSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.cfg.Metrics.LoginAttempt("success")
	s.log.WithFields(logrus.Fields{"username": user.Username, "source": user.AuthSource}).Info("login")
	if s.cfg.OnSuccess != nil {
		s.cfg.OnSuccess(ctx, user)
	}
	return res, nil
}

func (s *Service) authenticate(ctx context.Context, username, password string) (model.User, error) {
	for _, src := range s.cfg.Sources {
		user, err := src.Authenticate(ctx, username, password)
		if errors.Is(err, ErrUnknownUser) {
			continue
		}
		if err != nil {
			if !apperr.IsAuth(err) && !errors.Is(err, apperr.ErrForbidden) {
				s.log.WithError(err).WithField("source", src.Name()).Error("credential source failed")
			}
			return model.User{}, err
		}
		if user.AuthSource == "" {
			user.AuthSource = src.Name()
		}
		return user.Public(), nil
	}
	return model.User{}, apperr.ErrInvalidCredentials
}

func (s *Service) fail(ctx context.Context, username string, err error) error {
	result := "invalid"
	if errors.Is(err, apperr.ErrAccountLocked) {
		result = "locked"
	}
	s.cfg.Metrics.LoginAttempt(result)
	s.log.WithError(err).WithField("username", username).Info("login rejected")
	if s.cfg.OnFailure != nil {
		s.cfg.OnFailure(ctx, username, err)
	}
	return err
}

func (s *Service) openSession(ctx context.Context, user model.User) (*LoginResult, error) {
	raw, hash, err := NewRefreshToken()
	if err != nil {
		return nil, err
	}
	now := s.cfg.Clock.Now()
	if err := s.cfg.Sessions.CreateSession(ctx, model.Session{
		TokenHash:  hash,
		Username:   user.Username,
		Name:       user.Name,
		Role:       user.Role,
		AuthSource: user.AuthSource,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.RefreshTTL),
	}); err != nil {
		return nil, fmt.Errorf("auth.openSession: %w", err)
	}
	access, _, err := s.cfg.Tokens.Issue(user.Username, user.Name, user.Role, sessionID(hash))
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		User:         user,
		AccessToken:  access,
		RefreshToken: raw,
		ExpiresIn:    int64(s.cfg.Tokens.AccessTTL().Seconds()),
	}, nil
}

// sessionID derives the sid claim from the refresh token hash.
func sessionID(hash string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(hash)).String()
}

// Refresh revokes refreshToken and issues a new token pair for the
// identity captured when the session was opened.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	hash := HashToken(refreshToken)
	sess, err := s.cfg.Sessions.GetSession(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("auth.Refresh lookup: %w", err)
	}
	if sess == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if err := s.cfg.Sessions.DeleteSession(ctx, hash); err != nil {
		return nil, fmt.Errorf("auth.Refresh revoke: %w", err)
	}
	if !s.cfg.Clock.Now().Before(sess.ExpiresAt) {
		return nil, apperr.ErrSessionExpired
	}
	return s.openSession(ctx, model.User{
		Username:   sess.Username,
		Name:       sess.Name,
		Role:       sess.Role,
		AuthSource: sess.AuthSource,
		Active:     true,
	})
}

// Logout revokes refreshToken. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.cfg.Sessions.DeleteSession(ctx, HashToken(refreshToken)); err != nil {
		return fmt.Errorf("auth.Logout: %w", err)
	}
	return nil
}

// Authenticate validates an access token and returns its claims.
func (s *Service) Authenticate(token string) (*Claims, error) {
	return s.cfg.Tokens.Verify(token)
}
