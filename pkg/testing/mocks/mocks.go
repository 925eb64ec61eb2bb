// Package mocks provides function-field test doubles for the pipeline's
// collaborator interfaces.
package mocks

import (
	"context"
	"fmt"

	"github.com/cloudevents/sdk-go/v2/event"

	shared "github.com/stridecoach/server/pkg"
	"github.com/stridecoach/server/pkg/types"
)

// --- Mock Connection Store ---

type MockConnectionStore struct {
	GetStateFunc            func(ctx context.Context, userID string) (*types.ConnectionState, error)
	GetValidAccessTokenFunc func(ctx context.Context, userID string) (string, error)
	RefreshAccessTokenFunc  func(ctx context.Context, userID string) (string, error)
	MarkAuthErrorFunc       func(ctx context.Context, userID, message string) error
	MarkSyncStateFunc       func(ctx context.Context, userID string, update types.SyncStateUpdate) error
}

func (m *MockConnectionStore) GetState(ctx context.Context, userID string) (*types.ConnectionState, error) {
	if m.GetStateFunc != nil {
		return m.GetStateFunc(ctx, userID)
	}
	return nil, fmt.Errorf("connection not found")
}

func (m *MockConnectionStore) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	if m.GetValidAccessTokenFunc != nil {
		return m.GetValidAccessTokenFunc(ctx, userID)
	}
	return "test-access-token", nil
}

func (m *MockConnectionStore) RefreshAccessToken(ctx context.Context, userID string) (string, error) {
	if m.RefreshAccessTokenFunc != nil {
		return m.RefreshAccessTokenFunc(ctx, userID)
	}
	return "refreshed-access-token", nil
}

func (m *MockConnectionStore) MarkAuthError(ctx context.Context, userID, message string) error {
	if m.MarkAuthErrorFunc != nil {
		return m.MarkAuthErrorFunc(ctx, userID, message)
	}
	return nil
}

func (m *MockConnectionStore) MarkSyncState(ctx context.Context, userID string, update types.SyncStateUpdate) error {
	if m.MarkSyncStateFunc != nil {
		return m.MarkSyncStateFunc(ctx, userID, update)
	}
	return nil
}

// --- Mock Export Store ---

type MockExportStore struct {
	ReadRowsFunc func(ctx context.Context, q shared.ExportQuery) (*types.ExportReadResult, error)
}

func (m *MockExportStore) ReadRows(ctx context.Context, q shared.ExportQuery) (*types.ExportReadResult, error) {
	if m.ReadRowsFunc != nil {
		return m.ReadRowsFunc(ctx, q)
	}
	return &types.ExportReadResult{StoreAvailable: true}, nil
}

// --- Mock Analytics Store ---

type MockAnalyticsStore struct {
	PersistSnapshotFunc       func(ctx context.Context, snap *types.Snapshot) (*types.PersistCounts, error)
	QueryCachedActivitiesFunc func(ctx context.Context, userID string, lookbackDays int) ([]map[string]interface{}, error)
}

func (m *MockAnalyticsStore) PersistSnapshot(ctx context.Context, snap *types.Snapshot) (*types.PersistCounts, error) {
	if m.PersistSnapshotFunc != nil {
		return m.PersistSnapshotFunc(ctx, snap)
	}
	return &types.PersistCounts{}, nil
}

func (m *MockAnalyticsStore) QueryCachedActivities(ctx context.Context, userID string, lookbackDays int) ([]map[string]interface{}, error) {
	if m.QueryCachedActivitiesFunc != nil {
		return m.QueryCachedActivitiesFunc(ctx, userID, lookbackDays)
	}
	return nil, nil
}

// --- Mock Derive Queue ---

type MockDeriveQueue struct {
	EnqueueFunc func(ctx context.Context, job *types.DeriveJob) (*types.EnqueueResult, error)
}

func (m *MockDeriveQueue) Enqueue(ctx context.Context, job *types.DeriveJob) (*types.EnqueueResult, error) {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, job)
	}
	return &types.EnqueueResult{Queued: true, JobID: job.JobID}, nil
}

// --- Mock Telemetry ---

type MockTelemetry struct {
	Events []string
	Errors []error
}

func (m *MockTelemetry) CaptureEvent(name string, props map[string]interface{}) {
	m.Events = append(m.Events, name)
}

func (m *MockTelemetry) CaptureError(err error, props map[string]interface{}) {
	m.Errors = append(m.Errors, err)
}

// --- Mock Reconnect Notifier ---

type MockReconnectNotifier struct {
	NotifyReconnectRequiredFunc func(ctx context.Context, userID, reason string) error
	Notified                    []string
}

func (m *MockReconnectNotifier) NotifyReconnectRequired(ctx context.Context, userID, reason string) error {
	m.Notified = append(m.Notified, userID)
	if m.NotifyReconnectRequiredFunc != nil {
		return m.NotifyReconnectRequiredFunc(ctx, userID, reason)
	}
	return nil
}

// --- Mock Publisher ---

type MockPublisher struct {
	PublishCloudEventFunc func(ctx context.Context, topic string, e event.Event) (string, error)
}

func (m *MockPublisher) PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error) {
	if m.PublishCloudEventFunc != nil {
		return m.PublishCloudEventFunc(ctx, topic, e)
	}
	return "msg-id", nil
}

// --- Mock Blob Store ---

type MockBlobStore struct {
	WriteFunc func(ctx context.Context, bucket, object string, data []byte) error
}

func (m *MockBlobStore) Write(ctx context.Context, bucket, object string, data []byte) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, bucket, object, data)
	}
	return nil
}
