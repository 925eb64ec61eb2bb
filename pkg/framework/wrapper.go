// Package framework wraps CloudEvent-triggered functions with per-invocation
// logging and telemetry.
package framework

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/stridecoach/server/pkg/bootstrap"
	"github.com/stridecoach/server/pkg/infrastructure/pubsub"
)

// FrameworkContext carries the dependencies injected into every wrapped
// handler invocation.
type FrameworkContext struct {
	Service     *bootstrap.Service
	Logger      *slog.Logger
	ExecutionID string
}

// HandlerFunc is the signature for a wrapped cloud function handler.
type HandlerFunc func(ctx context.Context, e event.Event, fwCtx *FrameworkContext) (interface{}, error)

// WrapCloudEvent wraps a handler with execution-scoped logging and error
// telemetry. Handler errors are returned to the functions runtime so the
// event is redelivered.
func WrapCloudEvent(serviceName string, svc *bootstrap.Service, handler HandlerFunc) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) error {
		execID := uuid.NewString()

		logger := newInvocationLogger(serviceName).With("execution_id", execID, "event_type", e.Type())
		if userID := extractUserID(e); userID != "" {
			logger = logger.With("user_id", userID)
		}
		logger.Info("Function started")

		fwCtx := &FrameworkContext{
			Service:     svc,
			Logger:      logger,
			ExecutionID: execID,
		}

		outputs, err := handler(ctx, e, fwCtx)
		if err != nil {
			logger.Error("Function failed", "error", err)
			if svc != nil && svc.Telemetry != nil {
				svc.Telemetry.CaptureError(err, map[string]interface{}{
					"service":      serviceName,
					"execution_id": execID,
					"event_type":   e.Type(),
				})
			}
			return err
		}

		logger.Info("Function completed successfully", "outputs", outputs)
		return nil
	}
}

func newInvocationLogger(serviceName string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := bootstrap.GetSlogHandlerOptions(level)
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With("service", serviceName)
}

// extractUserID digs the user id out of the event payload, unwrapping the
// Pub/Sub push envelope when present.
func extractUserID(e event.Event) string {
	payload := e.Data()

	var push pubsub.PushMessage
	if err := e.DataAs(&push); err == nil && len(push.Message.Data) > 0 {
		payload = push.Message.Data
	}

	var body map[string]interface{}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	if inner, ok := body["data"].(map[string]interface{}); ok {
		// A serialized CloudEvent; the job payload is one level down.
		body = inner
	}
	if uid, ok := body["userId"].(string); ok {
		return uid
	}
	if uid, ok := body["user_id"].(string); ok {
		return uid
	}
	return ""
}
