// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"

	"github.com/kindenheim/heatpump-monitor/internal/config"
)

const appName = "heatpump-monitor"

// New returns a coloured text logger in dev and a JSON logger in prod.
func New(w io.Writer, cfg config.Config, version string) *slog.Logger {
	if !cfg.Prod() {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.Level,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", appName)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.Level,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.Env,
	)
}
