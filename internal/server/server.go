// Package server wires the sar REST backend together and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"sar/internal/archive"
	"sar/internal/audit"
	"sar/internal/auth"
	"sar/internal/config"
	"sar/internal/database"
	"sar/internal/handler"
	"sar/internal/metrics"
	"sar/internal/model"
	"sar/internal/response"
	"sar/web"
)

const sessionPurgeInterval = time.Hour

// Store is everything the handlers need from persistence. *database.DB
// implements it.
type Store interface {
	handler.ScheduleRepository
	handler.SystemRepository
	handler.PicRepository
	handler.LogRepository
	handler.LogWriter
	handler.ProgressRepository
	handler.AuditRepository
	handler.UserRepository
	HasUsers(ctx context.Context) (bool, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the router.
type Deps struct {
	Store    Store
	Auth     handler.Authenticator
	Verifier auth.Verifier
	Audit    *audit.Buffer
	// Archiver is nil when archiving is disabled.
	Archiver handler.Archiver
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Clock    clockwork.Clock
	Logger   logrus.FieldLogger
	Version  string

	MetricsPath string
}

// Routes builds the HTTP handler for the whole backend.
func Routes(d Deps) http.Handler {
	log := d.Logger
	act := handler.NewActivity(d.Store, d.Audit, d.Clock, log)
	mw := auth.NewMiddleware(d.Verifier)

	authH := handler.NewAuthHandler(d.Auth, d.Audit, log)
	schedH := handler.NewScheduleHandler(d.Store, act, log)
	sysH := handler.NewSystemHandler(d.Store, act, log)
	picH := handler.NewPicHandler(d.Store, act, log)
	logH := handler.NewLogHandler(d.Store, log)
	progH := handler.NewProgressHandler(d.Store, act, log)
	auditH := handler.NewAuditHandler(d.Store, d.Archiver, act, log)
	adminH := handler.NewAdminHandler(d.Store, act, log)
	setupH := handler.NewSetupHandler(d.Store, log)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /sar/setup", setupH.Status)
	mux.HandleFunc("POST /sar/setup", setupH.Submit)

	mux.HandleFunc("POST /sar/auth/login", authH.Login)
	mux.HandleFunc("POST /sar/auth/refresh", authH.Refresh)
	mux.HandleFunc("POST /sar/auth/logout", mw.Optional(authH.Logout))
	mux.HandleFunc("GET /sar/auth/me", mw.RequireAuth(authH.Me))

	mux.HandleFunc("GET /sar/schedules", mw.RequireAuth(schedH.List))
	mux.HandleFunc("POST /sar/schedules", mw.RequireWriter(schedH.Create))
	mux.HandleFunc("PUT /sar/schedules/{id}", mw.RequireWriter(schedH.Update))
	mux.HandleFunc("PUT /sar/schedules/{id}/status", mw.RequireWriter(schedH.SetStatus))
	mux.HandleFunc("DELETE /sar/schedules/{id}", mw.RequireWriter(schedH.Delete))

	mux.HandleFunc("GET /sar/system-master", mw.RequireAuth(sysH.List))
	mux.HandleFunc("POST /sar/system-master", mw.RequireWriter(sysH.Create))
	mux.HandleFunc("PUT /sar/system-master/{type}/{code}/{validFrom}", mw.RequireWriter(sysH.Update))
	mux.HandleFunc("PUT /sar/system-master/{type}/{code}/{validFrom}/status", mw.RequireWriter(sysH.SetStatus))
	mux.HandleFunc("DELETE /sar/system-master/{type}/{code}/{validFrom}", mw.RequireWriter(sysH.Delete))

	mux.HandleFunc("GET /sar/pic", mw.RequireAuth(picH.List))
	mux.HandleFunc("POST /sar/pic", mw.RequireWriter(picH.Create))
	mux.HandleFunc("PUT /sar/pic/{id}", mw.RequireWriter(picH.Update))
	mux.HandleFunc("DELETE /sar/pic/{id}", mw.RequireWriter(picH.Delete))

	mux.HandleFunc("GET /sar/logs", mw.RequireAuth(logH.List))
	mux.HandleFunc("GET /sar/logs/{id}", mw.RequireAuth(logH.Get))

	mux.HandleFunc("GET /sar/uar-progress", mw.RequireAuth(progH.List))
	mux.HandleFunc("GET /sar/uar-progress/summary", mw.RequireAuth(progH.Summary))
	mux.HandleFunc("PUT /sar/uar-progress", mw.RequireAdmin(progH.Import))

	mux.HandleFunc("POST /sar/audit-logs", mw.Optional(auditH.Ingest))
	mux.HandleFunc("GET /sar/audit-logs", mw.RequireAdmin(auditH.List))
	mux.HandleFunc("POST /sar/audit-logs/archive", mw.RequireAdmin(auditH.Archive))

	mux.HandleFunc("GET /sar/users", mw.RequireAdmin(adminH.ListUsers))
	mux.HandleFunc("POST /sar/users", mw.RequireAdmin(adminH.CreateUser))
	mux.HandleFunc("PUT /sar/users/{username}/active", mw.RequireAdmin(adminH.SetUserActive))
	mux.HandleFunc("DELETE /sar/users/{username}", mw.RequireAdmin(adminH.DeleteUser))

	mux.HandleFunc("GET /healthz", healthz(d.Store, d.Version))
	if d.Gatherer != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /sar/", func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "no such endpoint")
	})
	mux.Handle("GET /", web.StaticHandler())

	return recoverPanics(instrument(mux, d.Metrics, log.WithField("component", "http")), log)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthz(db pinger, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			response.Error(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable")
			return
		}
		response.OK(w, map[string]string{"status": "ok", "version": version})
	}
}

type sessionPurger interface {
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// purgeSessions deletes expired refresh sessions now and then on every tick
// until ctx is cancelled.
func purgeSessions(ctx context.Context, db sessionPurger, clock clockwork.Clock, every time.Duration, log logrus.FieldLogger) {
	purge := func() {
		n, err := db.PurgeExpiredSessions(ctx, clock.Now().UTC())
		if err != nil {
			log.WithError(err).Warn("purging expired sessions")
			return
		}
		if n > 0 {
			log.WithField("count", n).Info("expired sessions purged")
		}
	}
	purge()

	ticker := clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			purge()
		}
	}
}

func credentialSources(cfg *config.Config, db *database.DB, log logrus.FieldLogger) ([]auth.Source, error) {
	var sources []auth.Source
	if cfg.LDAP.Enabled {
		sources = append(sources, auth.NewLDAPSource(cfg.LDAP))
		log.WithFields(logrus.Fields{
			"url":    cfg.LDAP.URL,
			"groups": len(cfg.LDAP.GroupMapping),
		}).Info("LDAP authentication enabled")
	}
	sources = append(sources, auth.NewDBSource(db))
	if len(cfg.Auth.StaticUsers) > 0 {
		static, err := auth.NewStaticSource(cfg.Auth.StaticUsers)
		if err != nil {
			return nil, err
		}
		sources = append(sources, static)
	}
	if cfg.Auth.DemoUsers {
		demo, err := auth.NewDemoSource()
		if err != nil {
			return nil, err
		}
		sources = append(sources, demo)
	}
	return sources, nil
}

func attemptTracker(ctx context.Context, cfg *config.Config, clock clockwork.Clock, log logrus.FieldLogger) (auth.AttemptTracker, func(), error) {
	if !cfg.Redis.Enabled {
		return auth.NewMemoryTracker(cfg.Auth.MaxFailedAttempts, cfg.Auth.LockoutDuration, clock), func() {}, nil
	}
	client, err := auth.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	log.Info("login attempts tracked in Redis")
	tracker := auth.NewRedisTracker(client, cfg.Auth.MaxFailedAttempts, cfg.Auth.LockoutDuration, log)
	return tracker, func() { _ = client.Close() }, nil
}

// Start runs the backend until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, cfg *config.Config, version string, log logrus.FieldLogger) error {
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	m := metrics.New()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	db, err := database.Open(ctx, cfg.Database.DSN, web.MigrationsFS(), log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	clock := clockwork.NewRealClock()

	tracker, closeTracker, err := attemptTracker(ctx, cfg, clock, log)
	if err != nil {
		return fmt.Errorf("failed to init attempt tracker: %w", err)
	}
	defer closeTracker()

	sources, err := credentialSources(cfg, db, log)
	if err != nil {
		return fmt.Errorf("failed to init credential sources: %w", err)
	}

	buf, err := audit.NewBuffer(audit.Config{
		Sender:        db,
		MaxBufferSize: cfg.Audit.MaxBufferSize,
		RetryLimit:    cfg.Audit.RetryLimit,
		FlushInterval: cfg.Audit.FlushInterval,
		Clock:         clock,
		Logger:        log,
		Metrics:       m,
	})
	if err != nil {
		return fmt.Errorf("failed to init audit buffer: %w", err)
	}

	svc, err := auth.NewService(auth.Config{
		Sources:    sources,
		Tracker:    tracker,
		Tokens:     auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTokenTTL, clock),
		Sessions:   db,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
		Clock:      clock,
		Logger:     log,
		Metrics:    m,
		OnSuccess: func(ctx context.Context, u model.User) {
			if u.AuthSource != "ldap" {
				return
			}
			if err := db.UpsertDirectoryUser(ctx, u); err != nil {
				log.WithError(err).WithField("username", u.Username).Warn("provisioning directory user")
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to init auth service: %w", err)
	}

	var archiver handler.Archiver
	if cfg.Archive.Enabled {
		client, err := archive.NewS3Client(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to init archive client: %w", err)
		}
		exp, err := archive.NewExporter(db, client, cfg.Archive.Bucket, cfg.Archive.Prefix, log)
		if err != nil {
			return fmt.Errorf("failed to init archive exporter: %w", err)
		}
		archiver = exp
		log.WithField("bucket", cfg.Archive.Bucket).Info("audit archiving enabled")
	}

	deps := Deps{
		Store:    db,
		Auth:     svc,
		Verifier: svc,
		Audit:    buf,
		Archiver: archiver,
		Metrics:  m,
		Clock:    clock,
		Logger:   log,
		Version:  version,
	}
	if cfg.Metrics.Enabled {
		deps.Gatherer = reg
		deps.MetricsPath = cfg.Metrics.Path
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go buf.Run(runCtx)
	go purgeSessions(runCtx, db, clock, sessionPurgeInterval, log.WithField("component", "sessions"))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      Routes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "version": version}).Info("sar server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}

	stop()
	select {
	case <-buf.Done():
	case <-shutdownCtx.Done():
		log.Warn("audit buffer did not drain before the shutdown deadline")
	}
	return nil
}
