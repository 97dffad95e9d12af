package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sar/internal/apperr"
	"sar/internal/archive"
	"sar/internal/audit"
	"sar/internal/auth"
	"sar/internal/model"
)

var testNow = time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)

type fakeVerifier map[string]auth.Claims

func (v fakeVerifier) Authenticate(token string) (*auth.Claims, error) {
	c, ok := v[token]
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	return &c, nil
}

func claims(user, role string) auth.Claims {
	return auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: user}, Name: user + " name", Role: role}
}

var tokens = fakeVerifier{
	"admin-token":    claims("admin", model.RoleAdmin),
	"reviewer-token": claims("reviewer", model.RoleReviewer),
	"viewer-token":   claims("viewer", model.RoleViewer),
}

// fakeDB is an in-memory stand-in for *database.DB.
type fakeDB struct {
	mu        sync.Mutex
	schedules map[int64]model.Schedule
	systems   map[string]model.SystemMaster
	pics      map[int64]model.PicUser
	logs      []model.LogEntry
	progress  []model.UARProgress
	audit     []model.AuditLogEntry
	users     map[string]model.User
	nextID    int64
	failWith  error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		schedules: map[int64]model.Schedule{},
		systems:   map[string]model.SystemMaster{},
		pics:      map[int64]model.PicUser{},
		users:     map[string]model.User{},
		nextID:    100,
	}
}

func skey(k model.SystemKey) string { return describeKey(k) }

func (f *fakeDB) id() int64 { f.nextID++; return f.nextID }

func (f *fakeDB) ListSchedules(_ context.Context, flt model.ScheduleFilter) ([]model.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Schedule{}
	for _, s := range f.schedules {
		if flt.Match(s) {
			out = append(out, s)
		}
	}
	return out, f.failWith
}

func (f *fakeDB) GetSchedule(_ context.Context, id int64) (model.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return model.Schedule{}, apperr.ErrNotFound
	}
	return s, nil
}

func (f *fakeDB) CreateSchedule(_ context.Context, s model.Schedule) (model.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return model.Schedule{}, f.failWith
	}
	s.ID = f.id()
	f.schedules[s.ID] = s
	return s, nil
}

func (f *fakeDB) UpdateSchedule(_ context.Context, s model.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[s.ID]; !ok {
		return apperr.ErrNotFound
	}
	f.schedules[s.ID] = s
	return nil
}

func (f *fakeDB) SetScheduleStatus(_ context.Context, id int64, status, by string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return apperr.ErrNotFound
	}
	s.Status = status
	s.StampChanged(by, at)
	f.schedules[id] = s
	return nil
}

func (f *fakeDB) DeleteSchedule(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(f.schedules, id)
	return nil
}

func (f *fakeDB) ListSystems(_ context.Context, flt model.SystemFilter) ([]model.SystemMaster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.SystemMaster{}
	for _, s := range f.systems {
		if flt.Match(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeDB) GetSystem(_ context.Context, k model.SystemKey) (model.SystemMaster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.systems[skey(k)]
	if !ok {
		return model.SystemMaster{}, apperr.ErrNotFound
	}
	return s, nil
}

func (f *fakeDB) CreateSystem(_ context.Context, s model.SystemMaster) (model.SystemMaster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.systems[skey(s.Key())]; ok {
		return model.SystemMaster{}, apperr.ErrConflict
	}
	s.ID = f.id()
	f.systems[skey(s.Key())] = s
	return s, nil
}

func (f *fakeDB) UpdateSystem(_ context.Context, k model.SystemKey, s model.SystemMaster) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.systems[skey(k)]; !ok {
		return apperr.ErrNotFound
	}
	f.systems[skey(k)] = s
	return nil
}

func (f *fakeDB) SetSystemStatus(_ context.Context, k model.SystemKey, status, by string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.systems[skey(k)]
	if !ok {
		return apperr.ErrNotFound
	}
	s.Status = status
	s.StampChanged(by, at)
	f.systems[skey(k)] = s
	return nil
}

func (f *fakeDB) DeleteSystem(_ context.Context, k model.SystemKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.systems[skey(k)]; !ok {
		return apperr.ErrNotFound
	}
	delete(f.systems, skey(k))
	return nil
}

func (f *fakeDB) ListPics(_ context.Context, flt model.PicFilter) ([]model.PicUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.PicUser{}
	for _, p := range f.pics {
		if flt.Match(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeDB) GetPic(_ context.Context, id int64) (model.PicUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pics[id]
	if !ok {
		return model.PicUser{}, apperr.ErrNotFound
	}
	return p, nil
}

func (f *fakeDB) CreatePic(_ context.Context, p model.PicUser) (model.PicUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = f.id()
	f.pics[p.ID] = p
	return p, nil
}

func (f *fakeDB) UpdatePic(_ context.Context, p model.PicUser) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pics[p.ID]; !ok {
		return apperr.ErrNotFound
	}
	f.pics[p.ID] = p
	return nil
}

func (f *fakeDB) DeletePic(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pics[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(f.pics, id)
	return nil
}

func (f *fakeDB) CreateLog(_ context.Context, l model.LogEntry) (model.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.ID = int64(len(f.logs) + 1)
	f.logs = append(f.logs, l)
	return l, nil
}

func (f *fakeDB) ListLogs(_ context.Context, flt model.LogFilter, limit uint64) ([]model.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.LogEntry{}
	for _, l := range f.logs {
		if flt.Match(l) && uint64(len(out)) < limit {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeDB) GetLog(_ context.Context, id int64) (model.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logs {
		if l.ID == id {
			return l, nil
		}
	}
	return model.LogEntry{}, apperr.ErrNotFound
}

func (f *fakeDB) processLogs() []model.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.LogEntry(nil), f.logs...)
}

func (f *fakeDB) ListProgress(_ context.Context, flt model.ProgressFilter) ([]model.UARProgress, error) {
	var out []model.UARProgress
	for _, p := range f.progress {
		if flt.Match(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeDB) UpsertProgress(_ context.Context, rows []model.UARProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, rows...)
	return nil
}

func (f *fakeDB) SendAudit(_ context.Context, entries []model.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.audit = append(f.audit, entries...)
	return nil
}

func (f *fakeDB) storedAudit() []model.AuditLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AuditLogEntry(nil), f.audit...)
}

func (f *fakeDB) ListAudit(_ context.Context, _ model.AuditFilter, limit, offset uint64) ([]model.AuditLogEntry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := len(f.audit)
	if offset >= uint64(total) {
		return []model.AuditLogEntry{}, total, nil
	}
	end := min(offset+limit, uint64(total))
	return f.audit[offset:end], total, nil
}

func (f *fakeDB) HasUsers(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users) > 0, nil
}

func (f *fakeDB) ListUsers(context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.User{}
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeDB) CreateUser(_ context.Context, u model.User, _ string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.Username]; ok {
		return model.User{}, apperr.ErrConflict
	}
	u.ID = f.id()
	u.Active = true
	u.AuthSource = "local"
	f.users[u.Username] = u
	return u, nil
}

func (f *fakeDB) SetUserActive(_ context.Context, username string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return apperr.ErrNotFound
	}
	u.Active = active
	f.users[username] = u
	return nil
}

func (f *fakeDB) DeleteUser(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[username]; !ok {
		return apperr.ErrNotFound
	}
	delete(f.users, username)
	return nil
}

type recordingSender struct {
	mu      sync.Mutex
	entries []model.AuditLogEntry
}

func (s *recordingSender) SendAudit(_ context.Context, entries []model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

type fakeArchiver struct {
	from, to time.Time
	format   archive.Format
	err      error
}

func (a *fakeArchiver) Export(_ context.Context, from, to time.Time, f archive.Format) (archive.Result, error) {
	a.from, a.to, a.format = from, to, f
	if a.err != nil {
		return archive.Result{}, a.err
	}
	return archive.Result{Bucket: "b", Key: "k", Format: f, Entries: 3}, nil
}

type fakeAuthenticator struct {
	err error
}

func (a *fakeAuthenticator) Login(_ context.Context, username, password string) (*auth.LoginResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	if password != "password123" {
		return nil, apperr.ErrInvalidCredentials
	}
	return &auth.LoginResult{
		User:         model.User{Username: username, Name: "Admin", Role: model.RoleAdmin, AuthSource: "demo", Active: true},
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresIn:    3600,
	}, nil
}

func (a *fakeAuthenticator) Refresh(_ context.Context, token string) (*auth.LoginResult, error) {
	if token != "refresh" {
		return nil, apperr.ErrUnauthenticated
	}
	return a.Login(context.Background(), "admin", "password123")
}

func (a *fakeAuthenticator) Logout(context.Context, string) error { return nil }

type env struct {
	db       *fakeDB
	sent     *recordingSender
	buf      *audit.Buffer
	archiver *fakeArchiver
	authn    *fakeAuthenticator
	mux      *http.ServeMux
}

func nullLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		db:       newFakeDB(),
		sent:     &recordingSender{},
		archiver: &fakeArchiver{},
		authn:    &fakeAuthenticator{},
		mux:      http.NewServeMux(),
	}
	log := nullLogger()
	clock := clockwork.NewFakeClockAt(testNow)
	buf, err := audit.NewBuffer(audit.Config{Sender: e.sent, Clock: clock, Logger: log})
	require.NoError(t, err)
	e.buf = buf

	act := NewActivity(e.db, buf, clock, log)
	mw := auth.NewMiddleware(tokens)
	sched := NewScheduleHandler(e.db, act, log)
	sys := NewSystemHandler(e.db, act, log)
	pic := NewPicHandler(e.db, act, log)
	logs := NewLogHandler(e.db, log)
	prog := NewProgressHandler(e.db, act, log)
	aud := NewAuditHandler(e.db, e.archiver, act, log)
	admin := NewAdminHandler(e.db, act, log)
	authH := NewAuthHandler(e.authn, buf, log)
	setup := NewSetupHandler(e.db, log)

	m := e.mux
	m.HandleFunc("POST /sar/auth/login", authH.Login)
	m.HandleFunc("POST /sar/auth/refresh", authH.Refresh)
	m.HandleFunc("POST /sar/auth/logout", mw.Optional(authH.Logout))
	m.HandleFunc("GET /sar/auth/me", mw.RequireAuth(authH.Me))
	m.HandleFunc("GET /sar/schedules", mw.RequireAuth(sched.List))
	m.HandleFunc("POST /sar/schedules", mw.RequireWriter(sched.Create))
	m.HandleFunc("PUT /sar/schedules/{id}", mw.RequireWriter(sched.Update))
	m.HandleFunc("PUT /sar/schedules/{id}/status", mw.RequireWriter(sched.SetStatus))
	m.HandleFunc("DELETE /sar/schedules/{id}", mw.RequireWriter(sched.Delete))
	m.HandleFunc("GET /sar/system-master", mw.RequireAuth(sys.List))
	m.HandleFunc("POST /sar/system-master", mw.RequireWriter(sys.Create))
	m.HandleFunc("PUT /sar/system-master/{type}/{code}/{validFrom}", mw.RequireWriter(sys.Update))
	m.HandleFunc("PUT /sar/system-master/{type}/{code}/{validFrom}/status", mw.RequireWriter(sys.SetStatus))
	m.HandleFunc("DELETE /sar/system-master/{type}/{code}/{validFrom}", mw.RequireWriter(sys.Delete))
	m.HandleFunc("GET /sar/pic", mw.RequireAuth(pic.List))
	m.HandleFunc("POST /sar/pic", mw.RequireWriter(pic.Create))
	m.HandleFunc("PUT /sar/pic/{id}", mw.RequireWriter(pic.Update))
	m.HandleFunc("DELETE /sar/pic/{id}", mw.RequireWriter(pic.Delete))
	m.HandleFunc("GET /sar/logs", mw.RequireAuth(logs.List))
	m.HandleFunc("GET /sar/logs/{id}", mw.RequireAuth(logs.Get))
	m.HandleFunc("GET /sar/uar-progress", mw.RequireAuth(prog.List))
	m.HandleFunc("GET /sar/uar-progress/summary", mw.RequireAuth(prog.Summary))
	m.HandleFunc("PUT /sar/uar-progress", mw.RequireAdmin(prog.Import))
	m.HandleFunc("POST /sar/audit-logs", mw.Optional(aud.Ingest))
	m.HandleFunc("GET /sar/audit-logs", mw.RequireAdmin(aud.List))
	m.HandleFunc("POST /sar/audit-logs/archive", mw.RequireAdmin(aud.Archive))
	m.HandleFunc("GET /sar/users", mw.RequireAdmin(admin.ListUsers))
	m.HandleFunc("POST /sar/users", mw.RequireAdmin(admin.CreateUser))
	m.HandleFunc("PUT /sar/users/{username}/active", mw.RequireAdmin(admin.SetUserActive))
	m.HandleFunc("DELETE /sar/users/{username}", mw.RequireAdmin(admin.DeleteUser))
	m.HandleFunc("GET /sar/setup", setup.Status)
	m.HandleFunc("POST /sar/setup", setup.Submit)
	return e
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "10.0.0.9:51000"
	req.Header.Set("User-Agent", "handler-test")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

// flushed returns every audit entry recorded so far.
func (e *env) flushed(t *testing.T) []model.AuditLogEntry {
	t.Helper()
	e.buf.Flush(context.Background())
	e.sent.mu.Lock()
	defer e.sent.mu.Unlock()
	return append([]model.AuditLogEntry(nil), e.sent.entries...)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:80", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": " 198.51.100.4 "}, "10.0.0.2:80", "198.51.100.4"},
		{"remote addr", nil, "192.0.2.1:4242", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	e := newEnv(t)
	code, env := e.do(t, http.MethodPost, "/sar/schedules", "admin-token", `{"period":"07-2025","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)
}

func TestQueryLimit(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=99999", nil)
	n, err := queryLimit(r, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), n)

	r = httptest.NewRequest(http.MethodGet, "/?limit=zero", nil)
	_, err = queryLimit(r, 10, 100)
	assert.Error(t, err)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	n, err = queryLimit(r, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)
}

func TestFailLogsServerErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rec := httptest.NewRecorder()
	fail(rec, logger, errors.New("db down"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, hook.Entries, 1)

	hook.Reset()
	rec = httptest.NewRecorder()
	fail(rec, logger, apperr.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, hook.Entries)
}
