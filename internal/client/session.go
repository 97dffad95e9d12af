package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"sar/internal/apperr"
	"sar/internal/model"
)

// Keys under which a session is persisted.
const (
	KeyAuthToken    = "sar_auth_token"
	KeyUserData     = "sar_user_data"
	KeyTokenExpires = "sar_token_expires"
	KeyRefreshToken = "sar_refresh_token"
)

// StoredSession is what a TokenStore keeps between runs.
type StoredSession struct {
	AccessToken  string
	RefreshToken string
	User         model.User
	ExpiresAt    time.Time
}

type TokenStore interface {
	Load() (StoredSession, bool, error)
	Save(StoredSession) error
	Clear() error
}

// FileTokenStore persists the session as a JSON object in a file readable
// only by its owner. The content is not encrypted.
type FileTokenStore struct {
	Path string
}

func (s FileTokenStore) Load() (StoredSession, bool, error) {
	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return StoredSession{}, false, nil
	}
	if err != nil {
		return StoredSession{}, false, fmt.Errorf("client.FileTokenStore read %s: %w", s.Path, err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return StoredSession{}, false, fmt.Errorf("client.FileTokenStore decode %s: %w", s.Path, err)
	}
	var out StoredSession
	if err := decodeField(doc, KeyAuthToken, &out.AccessToken); err != nil {
		return StoredSession{}, false, err
	}
	if out.AccessToken == "" {
		return StoredSession{}, false, nil
	}
	if err := decodeField(doc, KeyRefreshToken, &out.RefreshToken); err != nil {
		return StoredSession{}, false, err
	}
	if err := decodeField(doc, KeyUserData, &out.User); err != nil {
		return StoredSession{}, false, err
	}
	var expires int64
	if err := decodeField(doc, KeyTokenExpires, &expires); err != nil {
		return StoredSession{}, false, err
	}
	out.ExpiresAt = time.UnixMilli(expires)
	return out, true, nil
}

func decodeField(doc map[string]json.RawMessage, key string, dst any) error {
	raw, ok := doc[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("client.FileTokenStore decode %s: %w", key, err)
	}
	return nil
}

func (s FileTokenStore) Save(sess StoredSession) error {
	doc := map[string]any{
		KeyAuthToken:    sess.AccessToken,
		KeyRefreshToken: sess.RefreshToken,
		KeyUserData:     sess.User,
		KeyTokenExpires: sess.ExpiresAt.UnixMilli(),
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("client.FileTokenStore encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("client.FileTokenStore mkdir: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("client.FileTokenStore write: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("client.FileTokenStore rename: %w", err)
	}
	return nil
}

func (s FileTokenStore) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("client.FileTokenStore remove: %w", err)
	}
	return nil
}

// MemoryTokenStore keeps the session in process memory only.
type MemoryTokenStore struct {
	mu   sync.Mutex
	sess *StoredSession
}

func (s *MemoryTokenStore) Load() (StoredSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return StoredSession{}, false, nil
	}
	return *s.sess, true, nil
}

func (s *MemoryTokenStore) Save(sess StoredSession) error {
	s.mu.Lock()
	s.sess = &sess
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	s.sess = nil
	s.mu.Unlock()
	return nil
}

// LoginResult is the backend's answer to a successful login or refresh.
type LoginResult struct {
	User         model.User `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresIn    int64      `json:"expiresIn"`
}

// Session is the dashboard's view of the signed-in user. It restores a
// persisted session on creation and is the client's TokenSource.
type Session struct {
	c     *Client
	store TokenStore
	clock clockwork.Clock

	mu      sync.RWMutex
	current *StoredSession
}

func NewSession(c *Client, store TokenStore, clock clockwork.Clock) (*Session, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Session{c: c, store: store, clock: clock}
	sess, ok, err := store.Load()
	if err != nil {
		return nil, err
	}
	if ok {
		s.current = &sess
	}
	c.UseTokens(s)
	return s, nil
}

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for tokens and persists them. A 401 or 423
// answer is mapped to apperr.ErrInvalidCredentials or apperr.ErrAccountLocked.
func (s *Session) Login(ctx context.Context, username, password string) (model.User, error) {
	var res LoginResult
	err := s.c.Do(ctx, Request{
		Method:    http.MethodPost,
		Path:      "/sar/auth/login",
		Anonymous: true,
		Body:      loginBody{Username: username, Password: password},
	}, &res)
	if err != nil {
		return model.User{}, mapAuthError(err)
	}
	if err := s.adopt(res); err != nil {
		return model.User{}, err
	}
	return res.User, nil
}

// Refresh rotates the refresh token for a new access token.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur == nil || cur.RefreshToken == "" {
		return apperr.ErrUnauthenticated
	}
	var res LoginResult
	err := s.c.Do(ctx, Request{
		Method:    http.MethodPost,
		Path:      "/sar/auth/refresh",
		Anonymous: true,
		Body:      map[string]string{"refreshToken": cur.RefreshToken},
	}, &res)
	if err != nil {
		if IsStatus(err, http.StatusUnauthorized) {
			_ = s.clear()
			return apperr.ErrSessionExpired
		}
		return err
	}
	return s.adopt(res)
}

// Logout revokes the session on the backend and always clears local state,
// even when the backend cannot be reached. The backend error is returned.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	var remoteErr error
	if cur != nil {
		remoteErr = s.c.Do(ctx, Request{
			Method: http.MethodPost,
			Path:   "/sar/auth/logout",
			Token:  cur.AccessToken,
			Body:   map[string]string{"refreshToken": cur.RefreshToken},
		}, nil)
	}
	if err := s.clear(); err != nil {
		return err
	}
	return remoteErr
}

// IsAuthenticated reports whether a token is held and has not expired.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && s.clock.Now().Before(s.current.ExpiresAt)
}

func (s *Session) CurrentUser() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return model.User{}, false
	}
	return s.current.User, true
}

// Token returns the access token, or "" when there is no live session.
func (s *Session) Token() string {
	if !s.IsAuthenticated() {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.AccessToken
}

func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return time.Time{}
	}
	return s.current.ExpiresAt
}

func (s *Session) adopt(res LoginResult) error {
	sess := StoredSession{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		User:         res.User,
		ExpiresAt:    s.clock.Now().Add(time.Duration(res.ExpiresIn) * time.Second),
	}
	if err := s.store.Save(sess); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()
	return nil
}

func (s *Session) clear() error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	return s.store.Clear()
}

func mapAuthError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Status {
	case http.StatusUnauthorized:
		return apperr.ErrInvalidCredentials
	case http.StatusLocked:
		return fmt.Errorf("%s: %w", apiErr.Message, apperr.ErrAccountLocked)
	case http.StatusForbidden:
		return fmt.Errorf("%s: %w", apiErr.Message, apperr.ErrAccountDisabled)
	}
	return err
}
