// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"

	"github.com/louisb0/talos/internal/config"
)

// New configures a JSON slog logger tagged with the component name and
// environment, one per worker process.
func New(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("component", cfg.ComponentName),
		slog.String("env", cfg.AppEnv),
	)
}
