// Package observability provides structured logging for hlsclient.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/jmylchreest/hlsclient/internal/config"
	"github.com/m-mizutani/masq"
)

// LevelTrace is below debug and is used for per-chunk transfer logging.
const LevelTrace = slog.Level(-8)

// RedactedValue replaces sensitive attribute values in log output.
const RedactedValue = "[REDACTED]"

// sensitiveNames are matched case-insensitively against attribute keys and
// URL query parameter names.
var sensitiveNames = []string{"password", "passwd", "secret", "token", "apikey", "api_key", "credential"}

// sensitiveQuery matches key=value pairs in a URL query whose key is sensitive.
var sensitiveQuery = regexp.MustCompile(`(?i)([?&][^=&#\s]*(?:password|passwd|secret|token|apikey|api_key|credential)[^=&#\s]*)=([^&#\s]*)`)

// NewLogger creates a logger writing to stderr. Stdout is left for stream output.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stderr)
}

// NewLoggerWithWriter creates a logger that writes to w.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	redact := newRedactor()

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 {
				switch a.Key {
				case slog.TimeKey:
					if cfg.TimeFormat != "" {
						if t, ok := a.Value.Any().(time.Time); ok {
							return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
						}
					}
					return a
				case slog.LevelKey:
					if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
						return slog.String(slog.LevelKey, "TRACE")
					}
					return a
				case slog.MessageKey, slog.SourceKey:
					return a
				}
			}
			return redact(groups, a)
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// newRedactor masks attributes with sensitive keys and sensitive URL query
// parameters inside string values. Errors are passed through untouched.
func newRedactor() func([]string, slog.Attr) slog.Attr {
	mask := masq.New(
		masq.WithCensor(func(fieldName string, _ any, _ string) bool {
			return isSensitiveName(fieldName)
		}),
		masq.WithCensor(func(_ string, value any, _ string) bool {
			s, ok := value.(string)
			return ok && sensitiveQuery.MatchString(s)
		}, masq.RedactString(RedactQuery)),
		masq.WithTag("secret"),
		masq.WithRedactMessage(RedactedValue),
	)

	return func(groups []string, a slog.Attr) slog.Attr {
		switch a.Value.Kind() {
		case slog.KindString:
			return mask(groups, a)
		case slog.KindAny:
			if _, isErr := a.Value.Any().(error); isErr {
				return a
			}
			return mask(groups, a)
		default:
			if isSensitiveName(a.Key) {
				return slog.String(a.Key, RedactedValue)
			}
			return a
		}
	}
}

func isSensitiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitiveNames {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// RedactQuery replaces the values of sensitive query parameters in a URL.
func RedactQuery(rawURL string) string {
	return sensitiveQuery.ReplaceAllString(rawURL, "${1}="+RedactedValue)
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent adds a component name to the logger.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithSession adds a session ID to the logger.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With(slog.String("session_id", sessionID))
}

// WithError adds an error to the logger attributes.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// TimedOperationWithError logs the start of an operation and returns a
// function that logs its completion or failure. errPtr is read when the
// returned function runs.
//
//nolint:gocritic // errPtr must be a pointer to capture errors set after this call
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.InfoContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		duration := time.Since(start)
		if errPtr != nil && *errPtr != nil {
			logger.ErrorContext(ctx, "operation failed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
				slog.String("error", (*errPtr).Error()),
			)
			return
		}
		logger.InfoContext(ctx, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
		)
	}
}
