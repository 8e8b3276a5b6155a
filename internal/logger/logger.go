package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

var levelVar = new(slog.LevelVar)

var L = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// Setup sets the level and, when file is non-empty, fans L out to a JSON log
// file next to stdout. The returned func closes the file.
func Setup(lvl, file string) func() error {
	SetLevel(lvl)
	if file == "" {
		return func() error { return nil }
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		L.Error("failed to open log file, using stdout only", "error", err, "file", file)
		return func() error { return nil }
	}
	L = newFanout(os.Stdout, f)
	return f.Close
}

func newFanout(stdout, file io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelVar}
	return slog.New(slogmulti.Fanout(
		slog.NewJSONHandler(stdout, opts),
		slog.NewJSONHandler(file, opts),
	))
}
