package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-chain-go/internal/types"
)

type Logger struct {
	*logrus.Entry
}

func New() *Logger {
	base := logrus.New()

	// Local env = pretty console; others = JSON
	env := os.Getenv("ENVIRONMENT")
	if env == "" || env == "local" {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
			ForceColors:     true,
		})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}

	base.SetOutput(os.Stdout)

	// Log level
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "debug":
		base.SetLevel(logrus.DebugLevel)
	case "warn":
		base.SetLevel(logrus.WarnLevel)
	case "error":
		base.SetLevel(logrus.ErrorLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}

	return &Logger{Entry: logrus.NewEntry(base)}
}

// Component returns a logger tagged with component=name.
func Component(name string) *Logger {
	l := New()
	return &Logger{Entry: l.WithField("component", name)}
}

// With wraps an entry so the helpers below stay available.
func With(e *logrus.Entry) *Logger {
	return &Logger{Entry: e}
}

// WithRun attaches the run id and chain name. An empty runID gets a fresh one.
func (l *Logger) WithRun(runID, chain string) *Logger {
	if runID == "" {
		runID = uuid.New().String()
	}
	return With(l.WithFields(logrus.Fields{
		"run_id": runID,
		"chain":  chain,
	}))
}

// WithCall attaches the short call id only.
func (l *Logger) WithCall(callID string) *Logger {
	return With(l.WithField("call", types.ShortID(callID)))
}

// WithSecret records that a secret is present by its length, never its value.
func (l *Logger) WithSecret(name, value string) *Logger {
	return With(l.WithField(name+"_len", len(value)))
}

// WithRequest attaches request metadata and returns an entry. The query string
// is dropped because provider URLs may carry tokens.
func (l *Logger) WithRequest(r *http.Request) *logrus.Entry {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.New().String()
	}

	return l.WithFields(logrus.Fields{
		"req_id": reqID,
		"method": r.Method,
		"host":   r.URL.Host,
		"path":   r.URL.Path,
	})
}

// WithError standardizes error logging
func (l *Logger) WithError(err error) *logrus.Entry {
	if err == nil {
		return l.Entry
	}
	return l.Entry.WithField("error", err.Error())
}
