package utils

import (
	"log/slog"
	"strings"
)

const logTimeFormat = "2006-01-02 15:04:05"

// LogWriter adapts a slog.Logger to io.Writer for libraries that log through a writer.
type LogWriter struct {
	logger *slog.Logger
}

// NewSlogWriter returns a writer that emits each written line as an info record.
func NewSlogWriter(l *slog.Logger) *LogWriter {
	return &LogWriter{logger: l}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		w.logger.Info(msg)
	}

	return len(p), nil
}

// ErrAttr returns the attribute used for errors across the codebase.
func ErrAttr(err error) slog.Attr {
	return slog.Any("error", err)
}

// SlogReplacer formats time and duration attributes in a human friendly way.
func SlogReplacer(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindTime:
		return slog.String(a.Key, a.Value.Time().Format(logTimeFormat))
	case slog.KindDuration:
		return slog.String(a.Key, a.Value.Duration().String())
	default:
		return a
	}
}

// LogOnError runs fn and logs msg if it fails. Handy for deferred Close calls.
func LogOnError(l *slog.Logger, fn func() error, msg string) {
	if err := fn(); err != nil {
		l.Error(msg, ErrAttr(err))
	}
}
