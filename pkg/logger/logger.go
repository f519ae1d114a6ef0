package logger

import (
	"log"
	"log/slog"
)

// New returns a *log.Logger that forwards to base at info level, tagged with
// the component name. Libraries that only accept a Printf-style logger (cron,
// http.Server.ErrorLog) get one from here.
func New(base *slog.Logger, component string) *log.Logger {
	if base == nil {
		base = slog.Default()
	}
	return slog.NewLogLogger(base.With("component", component).Handler(), slog.LevelInfo)
}
