package backend

import "log/slog"

// Logger receives lowering and execution logs. *slog.Logger satisfies it.
//
// Debug: strategy selection, fallback use, generated SQL with timing.
// Error: native execution failures.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Log attribute keys shared by adapters.
const (
	LogAttrBackend    = "backend"
	LogAttrFeature    = "feature"
	LogAttrStrategy   = "strategy"
	LogAttrVersion    = "version"
	LogAttrStep       = "step"
	LogAttrSQL        = "sql"
	LogAttrArgs       = "args"
	LogAttrDurationMS = "duration_ms"
	LogAttrRows       = "rows"
	LogAttrError      = "error"
)

func defaultLogger() Logger { return slog.Default() }
