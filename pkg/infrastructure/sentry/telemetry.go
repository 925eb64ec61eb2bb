package sentry

import (
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// Telemetry is the fire-and-forget event sink backed by Sentry. It never
// returns errors into the caller.
type Telemetry struct {
	Logger *slog.Logger
}

func (t *Telemetry) CaptureEvent(name string, props map[string]interface{}) {
	CaptureMessage(name, sentry.LevelInfo, props, t.Logger)
}

func (t *Telemetry) CaptureError(err error, props map[string]interface{}) {
	CaptureException(err, props, t.Logger)
}

// NopTelemetry drops everything. Used when no DSN is configured.
type NopTelemetry struct{}

func (NopTelemetry) CaptureEvent(string, map[string]interface{}) {}
func (NopTelemetry) CaptureError(error, map[string]interface{}) {}
