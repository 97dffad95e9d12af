// Package logging builds the process-wide logrus logger from configuration.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sar/internal/config"
)

// New returns a logger writing to stdout. Format "json" selects the JSON
// formatter, anything else the text formatter. Unknown levels fall back to
// info.
func New(cfg config.LogConfig, service string) *logrus.Entry {
	return NewWithOutput(cfg, service, os.Stdout)
}

func NewWithOutput(cfg config.LogConfig, service string, out io.Writer) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(out)

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339Nano, FullTimestamp: true})
	}

	return l.WithField("service", service)
}

// Discard is a logger for tests and for callers that opt out of logging.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
