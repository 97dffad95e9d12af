// Package dashboard drives the review dashboard: every action mutates a
// store optimistically, calls the backend, reconciles or rolls back the
// store and records an audit entry.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"sar/internal/apperr"
	"sar/internal/audit"
	"sar/internal/client"
	"sar/internal/model"
	"sar/internal/store"
)

const (
	moduleAuth      = "Authentication"
	moduleSchedule  = "Schedule"
	moduleSystem    = "System Master"
	modulePic       = "PIC"
	moduleLogs      = "Logs"
	moduleProgress  = "UAR Progress"
	anonymousUser   = "anonymous"
	logoutFlushWait = 5 * time.Second
)

type Config struct {
	Session *client.Session
	APIs    client.APIs
	// Audit may be nil, in which case actions are not audited.
	Audit    *audit.Buffer
	Clock    clockwork.Clock
	Logger   logrus.FieldLogger
	PageSize int
	// Location tags audit entries with the front-end that produced them.
	Location string
}

type App struct {
	session  *client.Session
	apis     client.APIs
	audit    *audit.Buffer
	clock    clockwork.Clock
	log      logrus.FieldLogger
	location string

	Schedules *store.ScheduleStore
	Systems   *store.SystemStore
	Pics      *store.PicStore
	Logs      *store.LogStore
	Progress  *store.ProgressStore
}

func New(cfg Config) (*App, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("dashboard: Session is required")
	}
	if cfg.APIs.Schedules == nil || cfg.APIs.Progress == nil {
		return nil, fmt.Errorf("dashboard: APIs are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	opts := []store.Option{store.WithClock(cfg.Clock), store.WithPageSize(cfg.PageSize)}
	return &App{
		session:   cfg.Session,
		apis:      cfg.APIs,
		audit:     cfg.Audit,
		clock:     cfg.Clock,
		log:       cfg.Logger.WithField("component", "dashboard"),
		location:  cfg.Location,
		Schedules: store.NewScheduleStore(opts...),
		Systems:   store.NewSystemStore(opts...),
		Pics:      store.NewPicStore(opts...),
		Logs:      store.NewLogStore(opts...),
		Progress:  store.NewProgressStore(),
	}, nil
}

func (a *App) actor() audit.Actor {
	u, ok := a.session.CurrentUser()
	if !ok {
		return audit.Actor{UserID: anonymousUser, UserName: anonymousUser}
	}
	return audit.Actor{UserID: u.Username, UserName: u.Name, Role: u.Role}
}

func (a *App) username() string {
	if u, ok := a.session.CurrentUser(); ok {
		return u.Username
	}
	return anonymousUser
}

// record audits the outcome of an action. err decides between a success
// and a failure entry.
func (a *App) record(action model.ActionKind, module, description string, err error) {
	ev := audit.Event{Action: action, Module: module, Description: description, Location: a.location}
	if err == nil {
		a.audit.Log(a.actor(), ev)
		return
	}
	a.audit.LogError(a.actor(), ev, errorCode(err), err)
}

func errorCode(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Code != "" {
		return apiErr.Code
	}
	var netErr *client.NetworkError
	if errors.As(err, &netErr) {
		return "NETWORK_ERROR"
	}
	return apperr.Code(err)
}

// Login signs in and audits the attempt. Lockouts are recorded as
// failures and rejected credentials as warnings.
func (a *App) Login(ctx context.Context, username, password string) (model.User, error) {
	user, err := a.session.Login(ctx, username, password)
	ev := audit.Event{Action: model.ActionLogin, Module: moduleAuth, Location: a.location}
	actor := audit.Actor{UserID: username, UserName: username}
	switch {
	case err == nil:
		ev.Description = "User logged in"
		a.audit.Log(audit.Actor{UserID: user.Username, UserName: user.Name, Role: user.Role}, ev)
		return user, nil
	case errors.Is(err, apperr.ErrInvalidCredentials):
		ev.Description = "Login rejected"
		ev.Outcome = model.OutcomeWarning
		ev.ErrorCode = apperr.Code(err)
		ev.ErrorMessage = err.Error()
		a.audit.Log(actor, ev)
	default:
		ev.Description = "Login failed"
		a.audit.LogError(actor, ev, errorCode(err), err)
	}
	return model.User{}, err
}

// Logout audits the logout, delivers pending audit entries while the token
// is still valid, then ends the session.
func (a *App) Logout(ctx context.Context) error {
	a.record(model.ActionLogout, moduleAuth, "User logged out", nil)
	if a.audit != nil {
		flushCtx, cancel := context.WithTimeout(ctx, logoutFlushWait)
		if err := a.audit.Flush(flushCtx); err != nil {
			a.log.WithError(err).Warn("audit flush before logout failed")
		}
		cancel()
	}
	return a.session.Logout(ctx)
}

func (a *App) CurrentUser() (model.User, bool) { return a.session.CurrentUser() }

func (a *App) IsAuthenticated() bool { return a.session.IsAuthenticated() }

func (a *App) SessionExpiresAt() time.Time { return a.session.ExpiresAt() }
