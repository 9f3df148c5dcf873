package observability

import (
	"log/slog"
	"os"
	"strings"

	"github.com/Ugoplus/smartcvnaija/internal/config"
)

// SetupLogger builds the process logger. Production output is one JSON line
// per event tagged with service and environment; dev uses the text handler
// at debug so a local run stays readable next to the bot conversation. An
// explicit LOG_LEVEL wins over both defaults.
func SetupLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}
	if l, ok := parseLevel(cfg.LogLevel); ok {
		level = l
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.IsDev() {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}
