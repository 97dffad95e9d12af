package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"sar/internal/audit"
	"sar/internal/client"
	"sar/internal/config"
	"sar/internal/dashboard"
	"sar/internal/logging"
	"sar/internal/offline"
)

const auditDrainTimeout = 5 * time.Second

// shell is the state shared by every command of one sarctl invocation.
type shell struct {
	app     *dashboard.App
	offline *offline.Transport
	audit   *audit.Buffer
	log     logrus.FieldLogger
	cfg     *config.ClientConfig

	stdin          io.Reader
	stdout, stderr io.Writer
}

func openShell(ctx context.Context, configPath string, stdin io.Reader, stdout, stderr io.Writer) (*shell, error) {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return nil, err
	}
	log := logging.NewWithOutput(cfg.Log, "sarctl", stderr)

	var transport http.RoundTripper = http.DefaultTransport
	var ot *offline.Transport
	if cfg.Offline.Enabled {
		ot, err = offline.NewTransport(offline.Config{
			Version: cfg.Offline.Version,
			Origin:  cfg.BaseURL,
			Logger:  log,
		})
		if err != nil {
			return nil, err
		}
		transport = ot
	}

	c, err := client.New(client.Config{
		BaseURL:    cfg.BaseURL,
		HTTPClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	sess, err := client.NewSession(c, client.FileTokenStore{Path: cfg.TokenFile}, nil)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	apis := client.NewAPIs(c, cfg.CacheTTL, nil)

	buf, err := audit.NewBuffer(audit.Config{
		Sender:        apis.Audit,
		MaxBufferSize: cfg.Audit.MaxBufferSize,
		RetryLimit:    cfg.Audit.RetryLimit,
		FlushInterval: cfg.Audit.FlushInterval,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	app, err := dashboard.New(dashboard.Config{
		Session:  sess,
		APIs:     apis,
		Audit:    buf,
		Logger:   log,
		PageSize: cfg.PageSize,
		Location: "sarctl",
	})
	if err != nil {
		return nil, err
	}
	return &shell{
		app:     app,
		offline: ot,
		audit:   buf,
		log:     log,
		cfg:     cfg,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

// close delivers audit entries still buffered when the command ends.
func (s *shell) close() {
	ctx, cancel := context.WithTimeout(context.Background(), auditDrainTimeout)
	defer cancel()
	if err := s.audit.Flush(ctx); err != nil {
		s.log.WithError(err).Warn("audit entries could not be delivered")
	}
	if s.offline != nil {
		s.offline.Wait()
	}
}

func (s *shell) requireLogin() error {
	if !s.app.IsAuthenticated() {
		return fmt.Errorf("not signed in; run 'sarctl login'")
	}
	return nil
}
