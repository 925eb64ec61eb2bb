package shared

import (
	"context"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/stridecoach/server/pkg/types"
)

// --- Connection Store ---

// ConnectionStore owns the OAuth connection lifecycle for linked wearable
// accounts. Implementations are expected to serialize token refreshes per
// user.
type ConnectionStore interface {
	GetState(ctx context.Context, userID string) (*types.ConnectionState, error)
	// GetValidAccessToken returns a currently valid bearer token, refreshing
	// proactively if the stored one is about to expire.
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
	// RefreshAccessToken forces a refresh exchange regardless of expiry.
	RefreshAccessToken(ctx context.Context, userID string) (string, error)
	MarkAuthError(ctx context.Context, userID, message string) error
	MarkSyncState(ctx context.Context, userID string, update types.SyncStateUpdate) error
}

// --- Export Ingestion Store ---

// ExportQuery selects webhook export rows for one external user since a
// point in time.
type ExportQuery struct {
	ExternalUserID string
	SinceISO       string
}

// ExportStore reads rows the webhook listener previously ingested. The
// pipeline never writes here.
type ExportStore interface {
	ReadRows(ctx context.Context, q ExportQuery) (*types.ExportReadResult, error)
}

// --- Analytics Persistence Store ---

type AnalyticsStore interface {
	PersistSnapshot(ctx context.Context, snap *types.Snapshot) (*types.PersistCounts, error)
	// QueryCachedActivities returns previously persisted canonical activities
	// for the user, filtered to the lookback window, as raw records.
	QueryCachedActivities(ctx context.Context, userID string, lookbackDays int) ([]map[string]interface{}, error)
}

// --- Derive Job Queue ---

type DeriveQueue interface {
	Enqueue(ctx context.Context, job *types.DeriveJob) (*types.EnqueueResult, error)
}

// --- Telemetry ---

// Telemetry is a fire-and-forget event sink. Implementations must never
// return errors into the sync path.
type Telemetry interface {
	CaptureEvent(name string, props map[string]interface{})
	CaptureError(err error, props map[string]interface{})
}

// --- Messaging ---

type Publisher interface {
	PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error)
}

// --- Notifications ---

// ReconnectNotifier tells a user their wearable link needs re-authorizing.
// Best effort; failures are logged, never surfaced into the sync path.
type ReconnectNotifier interface {
	NotifyReconnectRequired(ctx context.Context, userID, reason string) error
}

// --- Storage ---

type BlobStore interface {
	Write(ctx context.Context, bucket, object string, data []byte) error
}
