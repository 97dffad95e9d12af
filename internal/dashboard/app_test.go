package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sar/internal/apperr"
	"sar/internal/audit"
	"sar/internal/client"
	"sar/internal/model"
)

var testNow = time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)

func date(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func writeEnvelope(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  status < 300,
		"message": message,
		"data":    data,
	})
}

// backend is a minimal in-memory stand-in for the REST API.
type backend struct {
	mu        sync.Mutex
	nextID    int64
	schedules map[int64]model.Schedule
	systems   []model.SystemMaster
	progress  []model.UARProgress
	fail      map[string]bool
	hits      map[string]int
	paths     []string
}

func newBackend() *backend {
	return &backend{
		nextID:    100,
		schedules: map[int64]model.Schedule{},
		fail:      map[string]bool{},
		hits:      map[string]int{},
	}
}

func (b *backend) failing(pattern string, on bool) {
	b.mu.Lock()
	b.fail[pattern] = on
	b.mu.Unlock()
}

func (b *backend) count(pattern string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[pattern]
}

func (b *backend) wrap(pattern string, h func(w http.ResponseWriter, r *http.Request)) (string, http.HandlerFunc) {
	return pattern, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.hits[pattern]++
		b.paths = append(b.paths, r.URL.Path)
		failing := b.fail[pattern]
		b.mu.Unlock()
		if failing {
			writeEnvelope(w, http.StatusInternalServerError, "boom", nil)
			return
		}
		h(w, r)
	}
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(b.wrap("POST /sar/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in struct{ Username, Password string }
		_ = json.NewDecoder(r.Body).Decode(&in)
		switch {
		case in.Username == "locked":
			writeEnvelope(w, http.StatusLocked, "Account locked", nil)
		case in.Username == "admin" && in.Password == "password123":
			writeEnvelope(w, http.StatusOK, "ok", client.LoginResult{
				User:         model.User{Username: "admin", Name: "Administrator", Role: model.RoleAdmin},
				AccessToken:  "access",
				RefreshToken: "refresh",
				ExpiresIn:    3600,
			})
		default:
			writeEnvelope(w, http.StatusUnauthorized, "Invalid username or password", nil)
		}
	}))
	mux.HandleFunc(b.wrap("POST /sar/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "ok", nil)
	}))
	mux.HandleFunc(b.wrap("GET /sar/schedules", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		out := []model.Schedule{}
		for _, s := range b.schedules {
			out = append(out, s)
		}
		b.mu.Unlock()
		writeEnvelope(w, http.StatusOK, "ok", out)
	}))
	mux.HandleFunc(b.wrap("POST /sar/schedules", func(w http.ResponseWriter, r *http.Request) {
		var s model.Schedule
		_ = json.NewDecoder(r.Body).Decode(&s)
		b.mu.Lock()
		b.nextID++
		s.ID = b.nextID
		b.schedules[s.ID] = s
		b.mu.Unlock()
		writeEnvelope(w, http.StatusCreated, "created", s)
	}))
	mux.HandleFunc(b.wrap("PUT /sar/schedules/{id}", func(w http.ResponseWriter, r *http.Request) {
		var s model.Schedule
		_ = json.NewDecoder(r.Body).Decode(&s)
		s.ID, _ = strconv.ParseInt(r.PathValue("id"), 10, 64)
		b.mu.Lock()
		b.schedules[s.ID] = s
		b.mu.Unlock()
		writeEnvelope(w, http.StatusOK, "ok", s)
	}))
	mux.HandleFunc(b.wrap("PUT /sar/schedules/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		var in struct{ Status string }
		_ = json.NewDecoder(r.Body).Decode(&in)
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		b.mu.Lock()
		s := b.schedules[id]
		s.Status = in.Status
		b.schedules[id] = s
		b.mu.Unlock()
		writeEnvelope(w, http.StatusOK, "ok", s)
	}))
	mux.HandleFunc(b.wrap("DELETE /sar/schedules/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		b.mu.Lock()
		delete(b.schedules, id)
		b.mu.Unlock()
		writeEnvelope(w, http.StatusOK, "deleted", nil)
	}))
	mux.HandleFunc(b.wrap("GET /sar/system-master", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		out := append([]model.SystemMaster{}, b.systems...)
		b.mu.Unlock()
		writeEnvelope(w, http.StatusOK, "ok", out)
	}))
	mux.HandleFunc(b.wrap("POST /sar/system-master", func(w http.ResponseWriter, r *http.Request) {
		var s model.SystemMaster
		_ = json.NewDecoder(r.Body).Decode(&s)
		b.mu.Lock()
		b.nextID++
		s.ID = b.nextID
		b.systems = append(b.systems, s)
		b.mu.Unlock()
		writeEnvelope(w, http.StatusCreated, "created", s)
	}))
	mux.HandleFunc(b.wrap("PUT /sar/system-master/{type}/{code}/{validFrom}", func(w http.ResponseWriter, r *http.Request) {
		var s model.SystemMaster
		_ = json.NewDecoder(r.Body).Decode(&s)
		writeEnvelope(w, http.StatusOK, "ok", s)
	}))
	mux.HandleFunc(b.wrap("DELETE /sar/system-master/{type}/{code}/{validFrom}", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "deleted", nil)
	}))
	mux.HandleFunc(b.wrap("GET /sar/uar-progress", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		out := append([]model.UARProgress{}, b.progress...)
		b.mu.Unlock()
		writeEnvelope(w, http.StatusOK, "ok", out)
	}))
	return mux
}

type env struct {
	app     *App
	backend *backend
	clock   *clockwork.FakeClock
	buf     *audit.Buffer

	mu   sync.Mutex
	sent []model.AuditLogEntry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{backend: newBackend(), clock: clockwork.NewFakeClockAt(testNow)}
	srv := httptest.NewServer(e.backend.handler())
	t.Cleanup(srv.Close)

	logger, _ := test.NewNullLogger()
	c, err := client.New(client.Config{BaseURL: srv.URL, Logger: logger})
	require.NoError(t, err)
	sess, err := client.NewSession(c, &client.MemoryTokenStore{}, e.clock)
	require.NoError(t, err)

	e.buf, err = audit.NewBuffer(audit.Config{
		Sender: audit.SenderFunc(func(_ context.Context, entries []model.AuditLogEntry) error {
			e.mu.Lock()
			e.sent = append(e.sent, entries...)
			e.mu.Unlock()
			return nil
		}),
		Clock:  e.clock,
		Logger: logger,
	})
	require.NoError(t, err)

	e.app, err = New(Config{
		Session:  sess,
		APIs:     client.NewAPIs(c, time.Minute, nil),
		Audit:    e.buf,
		Clock:    e.clock,
		Logger:   logger,
		Location: "sarctl",
	})
	require.NoError(t, err)
	return e
}

func (e *env) login(t *testing.T) {
	t.Helper()
	_, err := e.app.Login(context.Background(), "admin", "password123")
	require.NoError(t, err)
}

// audited flushes the buffer and returns everything delivered so far.
func (e *env) audited(t *testing.T) []model.AuditLogEntry {
	t.Helper()
	require.NoError(t, e.buf.Flush(context.Background()))
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.AuditLogEntry(nil), e.sent...)
}

func schedule(period string) model.Schedule {
	return model.Schedule{
		Period:      period,
		Description: "quarterly review",
		Status:      model.StatusActive,
		Validity:    model.Validity{ValidFrom: date("2025-07-01"), ValidTo: date("2025-07-31")},
	}
}

func TestNewRequiresSessionAndAPIs(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestLoginAuditsOutcomes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.app.Login(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	_, err = e.app.Login(ctx, "locked", "x")
	assert.ErrorIs(t, err, apperr.ErrAccountLocked)
	user, err := e.app.Login(ctx, "admin", "password123")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, user.Role)
	assert.True(t, e.app.IsAuthenticated())

	entries := e.audited(t)
	require.Len(t, entries, 3)
	assert.Equal(t, model.OutcomeWarning, entries[0].Outcome)
	assert.Equal(t, "INVALID_CREDENTIALS", entries[0].ErrorCode)
	assert.Equal(t, model.OutcomeFailure, entries[1].Outcome)
	assert.Equal(t, "ACCOUNT_LOCKED", entries[1].ErrorCode)
	assert.Equal(t, model.OutcomeSuccess, entries[2].Outcome)
	assert.Equal(t, "Administrator", entries[2].UserName)
	for _, en := range entries {
		assert.Equal(t, model.ActionLogin, en.Action)
		assert.Equal(t, "sarctl", en.Location)
		assert.Equal(t, e.buf.SessionID(), en.SessionID)
	}
}

func TestLogoutFlushesAuditBeforeEndingSession(t *testing.T) {
	e := newEnv(t)
	e.login(t)

	require.NoError(t, e.app.Logout(context.Background()))
	assert.False(t, e.app.IsAuthenticated())

	e.mu.Lock()
	sent := append([]model.AuditLogEntry(nil), e.sent...)
	e.mu.Unlock()
	require.Len(t, sent, 2)
	assert.Equal(t, model.ActionLogout, sent[1].Action)
	assert.Equal(t, "admin", sent[1].UserID)
	assert.Equal(t, 1, e.backend.count("POST /sar/auth/logout"))
}

func TestCreateScheduleReconcilesServerCopy(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()

	saved, err := e.app.CreateSchedule(ctx, schedule("07-2025"))
	require.NoError(t, err)
	assert.Equal(t, int64(101), saved.ID)
	assert.Equal(t, "admin", saved.CreatedBy)
	assert.Equal(t, testNow, saved.CreatedDate.UTC())

	items := e.app.Schedules.Items()
	require.Len(t, items, 1)
	assert.Equal(t, int64(101), items[0].ID)

	entries := e.audited(t)
	last := entries[len(entries)-1]
	assert.Equal(t, model.ActionCreate, last.Action)
	assert.Equal(t, "Schedule", last.Module)
	assert.Equal(t, model.OutcomeSuccess, last.Outcome)
}

func TestCreateScheduleRollsBackOnFailure(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	e.backend.failing("POST /sar/schedules", true)

	_, err := e.app.CreateSchedule(context.Background(), schedule("07-2025"))
	require.Error(t, err)
	assert.True(t, client.IsStatus(err, http.StatusInternalServerError))
	assert.Empty(t, e.app.Schedules.Items())

	entries := e.audited(t)
	last := entries[len(entries)-1]
	assert.Equal(t, model.OutcomeFailure, last.Outcome)
	assert.Equal(t, "api error 500: boom", last.ErrorMessage)
	assert.Equal(t, "INTERNAL_ERROR", last.ErrorCode)
}

func TestCreateScheduleValidatesBeforeCallingBackend(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	bad := schedule("July")
	_, err := e.app.CreateSchedule(context.Background(), bad)

	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, e.backend.count("POST /sar/schedules"))

	bad = schedule("07-2025")
	bad.ValidTo = date("2025-06-01")
	_, err = e.app.CreateSchedule(context.Background(), bad)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "validTo", ve.Field)
}

func TestUpdateScheduleRollsBackOnFailure(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()
	saved, err := e.app.CreateSchedule(ctx, schedule("07-2025"))
	require.NoError(t, err)

	e.backend.failing("PUT /sar/schedules/{id}", true)
	patch := saved
	patch.Description = "changed"
	_, err = e.app.UpdateSchedule(ctx, patch)
	require.Error(t, err)
	got, ok := e.app.Schedules.Get(saved.ID)
	require.True(t, ok)
	assert.Equal(t, "quarterly review", got.Description)

	e.backend.failing("PUT /sar/schedules/{id}", false)
	updated, err := e.app.UpdateSchedule(ctx, patch)
	require.NoError(t, err)
	assert.Equal(t, "changed", updated.Description)
	got, _ = e.app.Schedules.Get(saved.ID)
	assert.Equal(t, "changed", got.Description)
}

func TestUpdateMissingScheduleIsNotFound(t *testing.T) {
	e := newEnv(t)
	s := schedule("07-2025")
	s.ID = 9
	_, err := e.app.UpdateSchedule(context.Background(), s)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSetScheduleStatus(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()
	saved, err := e.app.CreateSchedule(ctx, schedule("07-2025"))
	require.NoError(t, err)

	_, err = e.app.SetScheduleStatus(ctx, saved.ID, "Paused")
	assert.Error(t, err)

	got, err := e.app.SetScheduleStatus(ctx, saved.ID, model.StatusInactive)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInactive, got.Status)

	entries := e.audited(t)
	assert.Equal(t, model.ActionStatusChange, entries[len(entries)-1].Action)
}

func TestDeleteScheduleRestoresOnFailure(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()
	saved, err := e.app.CreateSchedule(ctx, schedule("07-2025"))
	require.NoError(t, err)

	e.backend.failing("DELETE /sar/schedules/{id}", true)
	require.Error(t, e.app.DeleteSchedule(ctx, saved.ID))
	_, ok := e.app.Schedules.Get(saved.ID)
	assert.True(t, ok)

	e.backend.failing("DELETE /sar/schedules/{id}", false)
	require.NoError(t, e.app.DeleteSchedule(ctx, saved.ID))
	_, ok = e.app.Schedules.Get(saved.ID)
	assert.False(t, ok)

	assert.ErrorIs(t, e.app.DeleteSchedule(ctx, saved.ID), apperr.ErrNotFound)
}

func TestLoadSchedulesUsesStoreFilter(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()
	_, err := e.app.CreateSchedule(ctx, schedule("07-2025"))
	require.NoError(t, err)
	_, err = e.app.CreateSchedule(ctx, schedule("08-2025"))
	require.NoError(t, err)

	e.app.Schedules.SetCollection(nil)
	require.NoError(t, e.app.LoadSchedules(ctx))
	assert.Len(t, e.app.Schedules.Items(), 2)

	require.NoError(t, e.app.Schedules.SetFilter(model.ScheduleFilter{Period: "08-2025"}))
	assert.Equal(t, 1, e.app.Schedules.FilteredCount())
}

func TestSystemsAreAddressedByCompoundKey(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()
	sys := model.SystemMaster{
		SystemType: "APP",
		SystemCode: "HR01",
		SystemName: "HR Portal",
		Status:     model.StatusActive,
		Validity:   model.Validity{ValidFrom: date("2025-01-01"), ValidTo: date("2025-12-31")},
	}
	_, err := e.app.CreateSystem(ctx, sys)
	require.NoError(t, err)

	_, err = e.app.CreateSystem(ctx, sys)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	patch := sys
	patch.SystemName = "HR Portal v2"
	got, err := e.app.UpdateSystem(ctx, sys.Key(), patch)
	require.NoError(t, err)
	assert.Equal(t, "HR Portal v2", got.SystemName)

	require.NoError(t, e.app.DeleteSystem(ctx, sys.Key()))
	_, ok := e.app.Systems.FindByKey(sys.Key())
	assert.False(t, ok)

	e.backend.mu.Lock()
	paths := append([]string(nil), e.backend.paths...)
	e.backend.mu.Unlock()
	assert.Contains(t, paths, "/sar/system-master/APP/HR01/2025-01-01")

	assert.ErrorIs(t, e.app.DeleteSystem(ctx, sys.Key()), apperr.ErrNotFound)
}

func TestLoadProgressKeepsFallbackWhenBackendFails(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx := context.Background()
	e.app.Progress.SetFilter(model.ProgressFilter{Period: "07-2025"})

	e.backend.failing("GET /sar/uar-progress", true)
	require.Error(t, e.app.LoadProgress(ctx))
	assert.False(t, e.app.Progress.HasData())
	assert.Equal(t, 50.0, e.app.GrandTotal())

	e.backend.failing("GET /sar/uar-progress", false)
	e.backend.mu.Lock()
	e.backend.progress = []model.UARProgress{
		{Period: "07-2025", DivisionID: "FIN", SystemID: "S1", Total: 4, Completed: 3},
	}
	e.backend.mu.Unlock()
	require.NoError(t, e.app.LoadProgress(ctx))
	assert.Equal(t, 75.0, e.app.GrandTotal())
	require.Len(t, e.app.DivisionSummary(), 1)
	assert.Equal(t, "FIN", e.app.DivisionSummary()[0].ID)
}

func TestAutoRefreshProgressReloadsOnEveryTick(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.app.AutoRefreshProgress(ctx, time.Minute)
		close(done)
	}()

	for i := 1; i <= 2; i++ {
		require.NoError(t, e.clock.BlockUntilContext(ctx, 1))
		e.clock.Advance(time.Minute)
		require.Eventually(t, func() bool {
			return e.backend.count("GET /sar/uar-progress") == i
		}, time.Second, 5*time.Millisecond)
	}

	cancel()
	<-done
}

func TestActionsWithoutSessionAreAuditedAsAnonymous(t *testing.T) {
	e := newEnv(t)
	e.backend.failing("GET /sar/schedules", true)
	require.Error(t, e.app.LoadSchedules(context.Background()))

	entries := e.audited(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "anonymous", entries[0].UserID)
	assert.Equal(t, model.ActionView, entries[0].Action)
}

func nullLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func TestNilAuditBufferIsAllowed(t *testing.T) {
	srv := httptest.NewServer(newBackend().handler())
	t.Cleanup(srv.Close)
	c, err := client.New(client.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	sess, err := client.NewSession(c, &client.MemoryTokenStore{}, nil)
	require.NoError(t, err)

	app, err := New(Config{Session: sess, APIs: client.NewAPIs(c, time.Minute, nil), Logger: nullLogger()})
	require.NoError(t, err)
	_, err = app.Login(context.Background(), "admin", "password123")
	require.NoError(t, err)
	require.NoError(t, app.Logout(context.Background()))
}
