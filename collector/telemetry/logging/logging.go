// Package logging derives component loggers for collector subsystems.
package logging

import "log/slog"

// Component returns a logger tagged with the subsystem name. A nil base uses
// the process default.
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("component", name)
}
