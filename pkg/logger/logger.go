// Package logger provides the structured logger shared by every component of
// the workflow service. It is a thin layer over logrus that fixes the output
// format, tags entries with the owning component and threads request-scoped
// values (trace id, actor) from a context into log entries.
package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls where and how log entries are written.
type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	FilePrefix string
}

// Logger is a logrus logger bound to a component name.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a logger from configuration. Unknown levels fall back to info and
// unknown formats to text.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	base.SetOutput(openOutput(cfg))
	return &Logger{Logger: base}
}

// NewDefault returns an info-level text logger on stdout tagged with component.
func NewDefault(component string) *Logger {
	return New(LoggingConfig{Level: "info", Format: "text", Output: "stdout"}).Named(component)
}

// NewNop returns a logger that discards every entry. Useful in tests.
func NewNop() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Logger: base}
}

// Named returns a logger sharing the same output and level whose entries carry
// the given component name.
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return NewDefault(component)
	}
	child := logrus.New()
	child.SetOutput(l.Out)
	child.SetFormatter(l.Formatter)
	child.SetLevel(l.GetLevel())
	child.AddHook(componentHook{name: component})
	return &Logger{Logger: child, component: component}
}

// Component reports the component name the logger is bound to.
func (l *Logger) Component() string {
	return l.component
}

// WithContext returns an entry carrying the trace id and actor stored in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithContext(ctx)
	if traceID := TraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if actor := Actor(ctx); actor != "" {
		entry = entry.WithField("actor", actor)
	}
	return entry
}

type componentHook struct {
	name string
}

func (h componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(entry *logrus.Entry) error {
	if h.name != "" {
		if _, ok := entry.Data["component"]; !ok {
			entry.Data["component"] = h.name
		}
	}
	return nil
}

func openOutput(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "workflow"
		}
		path := filepath.Clean(prefix + "-" + time.Now().UTC().Format("20060102") + ".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return os.Stderr
		}
		return f
	default:
		return os.Stdout
	}
}
