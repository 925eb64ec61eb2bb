package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	shared "github.com/stridecoach/server/pkg"
	httputil "github.com/stridecoach/server/pkg/infrastructure/http"
	"github.com/stridecoach/server/pkg/testing/mocks"
	"github.com/stridecoach/server/pkg/types"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func connectedState() *types.ConnectionState {
	return &types.ConnectionState{
		UserID:         "user-1",
		ExternalUserID: "ext-user-1",
		GrantedScopes:  []string{"ACTIVITY_EXPORT", "HEALTH_EXPORT", "HISTORICAL_EXPORT"},
		Status:         types.ConnectionConnected,
	}
}

type orchFixture struct {
	orch        *Orchestrator
	connections *mocks.MockConnectionStore
	exports     *mocks.MockExportStore
	analytics   *mocks.MockAnalyticsStore
	queue       *mocks.MockDeriveQueue
	telemetry   *mocks.MockTelemetry
	vendor      *mockVendor
	syncUpdates []types.SyncStateUpdate
	authErrors  []string
}

func newOrchFixture(state *types.ConnectionState) *orchFixture {
	fx := &orchFixture{
		connections: &mocks.MockConnectionStore{},
		exports:     &mocks.MockExportStore{},
		analytics:   &mocks.MockAnalyticsStore{},
		queue:       &mocks.MockDeriveQueue{},
		telemetry:   &mocks.MockTelemetry{},
		vendor:      &mockVendor{},
	}
	fx.connections.GetStateFunc = func(ctx context.Context, userID string) (*types.ConnectionState, error) {
		return state, nil
	}
	fx.connections.MarkSyncStateFunc = func(ctx context.Context, userID string, update types.SyncStateUpdate) error {
		fx.syncUpdates = append(fx.syncUpdates, update)
		return nil
	}
	fx.connections.MarkAuthErrorFunc = func(ctx context.Context, userID, message string) error {
		fx.authErrors = append(fx.authErrors, message)
		return nil
	}
	fx.orch = &Orchestrator{
		Connections: fx.connections,
		Exports:     fx.exports,
		Analytics:   fx.analytics,
		Queue:       fx.queue,
		Telemetry:   fx.telemetry,
		NewVendor:   func(userID string) VendorAPI { return fx.vendor },
		Now:         func() time.Time { return testNow },
	}
	return fx
}

func TestSyncEmptyAdvancesCursor(t *testing.T) {
	fx := newOrchFixture(connectedState())

	res, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if !res.NewCursor.Equal(testNow) {
		t.Errorf("cursor = %v, want %v", res.NewCursor, testNow)
	}
	if len(fx.syncUpdates) != 1 {
		t.Fatalf("sync state updates = %d", len(fx.syncUpdates))
	}
	up := fx.syncUpdates[0]
	if !up.ClearError {
		t.Error("a successful sync clears error state")
	}
	if up.LastSyncCursor == nil || !up.LastSyncCursor.Equal(testNow) {
		t.Errorf("persisted cursor = %v", up.LastSyncCursor)
	}
	if !res.Derive.Queued {
		t.Error("derive job should be queued")
	}
	if len(fx.telemetry.Events) != 1 || fx.telemetry.Events[0] != "wearable_sync_completed" {
		t.Errorf("telemetry events = %v", fx.telemetry.Events)
	}
}

func TestSyncCursorNeverMovesBackwards(t *testing.T) {
	state := connectedState()
	future := testNow.Add(48 * time.Hour)
	state.LastSyncCursor = &future

	fx := newOrchFixture(state)
	res, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if !res.NewCursor.Equal(future) {
		t.Errorf("cursor = %v, want the later stored cursor %v", res.NewCursor, future)
	}
}

func TestSyncNoConnectionIsAuthError(t *testing.T) {
	fx := newOrchFixture(nil)

	_, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthError", err)
	}
	if len(fx.telemetry.Errors) != 1 {
		t.Errorf("telemetry errors = %d", len(fx.telemetry.Errors))
	}
}

func TestSyncRateLimited(t *testing.T) {
	state := connectedState()
	recent := testNow.Add(-5 * time.Minute)
	state.LastSyncAt = &recent

	fx := newOrchFixture(state)
	_, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"})
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if rateErr.RetryAfterSeconds != 300 {
		t.Errorf("retry after = %d, want 300", rateErr.RetryAfterSeconds)
	}
	if len(fx.syncUpdates) != 0 {
		t.Error("a denied sync must not touch sync state")
	}
}

func TestSyncBackfillTriggerSkipsRateLimit(t *testing.T) {
	state := connectedState()
	recent := testNow.Add(-5 * time.Minute)
	state.LastSyncAt = &recent

	fx := newOrchFixture(state)
	res, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1", Trigger: TriggerBackfill})
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if res.Window.LookbackDays != BackfillLookbackDays {
		t.Errorf("lookback = %d, want %d", res.Window.LookbackDays, BackfillLookbackDays)
	}
	if res.Window.Source != WindowSourceLookback {
		t.Errorf("window source = %s", res.Window.Source)
	}
}

func TestSyncAuthFailureRefreshesOnceAndRetries(t *testing.T) {
	fx := newOrchFixture(connectedState())

	uploadCalls := 0
	fx.vendor.UploadedSummariesFunc = func(ctx context.Context, dataset string, w Window) ([]map[string]interface{}, error) {
		uploadCalls++
		if uploadCalls == 1 {
			return nil, &httputil.HTTPError{StatusCode: http.StatusUnauthorized, Body: "expired token"}
		}
		return nil, nil
	}
	refreshes := 0
	fx.connections.RefreshAccessTokenFunc = func(ctx context.Context, userID string) (string, error) {
		refreshes++
		return "refreshed-token", nil
	}

	if _, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"}); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", refreshes)
	}
	if uploadCalls < 2 {
		t.Errorf("upload calls = %d, want retry after refresh", uploadCalls)
	}
}

func TestSyncSecondAuthFailureIsTerminal(t *testing.T) {
	fx := newOrchFixture(connectedState())
	notifier := &mocks.MockReconnectNotifier{}
	fx.orch.Notify = notifier

	fx.vendor.UploadedSummariesFunc = func(ctx context.Context, dataset string, w Window) ([]map[string]interface{}, error) {
		return nil, &httputil.HTTPError{StatusCode: http.StatusUnauthorized, Body: "expired token"}
	}

	_, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthError", err)
	}
	if len(fx.authErrors) == 0 {
		t.Error("terminal auth failure must be recorded on the connection")
	}
	if len(fx.syncUpdates) != 0 {
		t.Error("cursor must not advance on auth failure")
	}
	if len(notifier.Notified) != 1 || notifier.Notified[0] != "user-1" {
		t.Errorf("reconnect notifications = %v", notifier.Notified)
	}
}

func TestSyncIdentityDegradesToStoredValues(t *testing.T) {
	state := connectedState()
	state.GrantedScopes = []string{"ACTIVITY_EXPORT"}

	fx := newOrchFixture(state)
	fx.vendor.PermissionsFunc = func(ctx context.Context) ([]string, error) {
		return nil, &httputil.HTTPError{StatusCode: http.StatusInternalServerError, Body: "oops"}
	}
	fx.vendor.ExternalUserIDFunc = func(ctx context.Context) (string, error) {
		return "", fmt.Errorf("connection reset")
	}

	res, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if len(res.Permissions) != 1 || res.Permissions[0] != "ACTIVITY_EXPORT" {
		t.Errorf("permissions = %v, want stored scopes", res.Permissions)
	}
	if res.ExternalUserID != "ext-user-1" {
		t.Errorf("external id = %q, want stored id", res.ExternalUserID)
	}
	var sawPermNotice, sawIDNotice bool
	for _, n := range res.Notices {
		if strings.Contains(n, "using last known scopes") {
			sawPermNotice = true
		}
		if strings.Contains(n, "using stored id") {
			sawIDNotice = true
		}
	}
	if !sawPermNotice || !sawIDNotice {
		t.Errorf("notices = %v", res.Notices)
	}
}

func TestSyncStoreRowsBecomeCanonicalRecords(t *testing.T) {
	fx := newOrchFixture(connectedState())
	fx.exports.ReadRowsFunc = func(ctx context.Context, q shared.ExportQuery) (*types.ExportReadResult, error) {
		return &types.ExportReadResult{
			StoreAvailable: true,
			Rows: []types.ExportRow{
				{DatasetKey: "activities", Payload: map[string]interface{}{
					"activityId":         "run-1",
					"activityType":       "RUNNING",
					"startTimeInSeconds": float64(1767960000),
					"durationInSeconds":  float64(1800),
				}},
				{DatasetKey: "activities", Payload: map[string]interface{}{
					"activityId":         "run-1",
					"activityType":       "RUNNING",
					"startTimeInSeconds": float64(1767960000),
					"durationInSeconds":  float64(1800),
				}},
			},
		}, nil
	}

	res, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if res.Sources["activities"] != "store" {
		t.Errorf("activities source = %q, want store", res.Sources["activities"])
	}
	if len(res.Activities) != 1 {
		t.Errorf("activities = %d, want 1 after dedup", len(res.Activities))
	}
	if res.RowCounts["activities"] != 2 {
		t.Errorf("row count = %d, want 2", res.RowCounts["activities"])
	}
}

func TestSyncQueueNotConfiguredRunsInline(t *testing.T) {
	fx := newOrchFixture(connectedState())
	fx.queue.EnqueueFunc = func(ctx context.Context, job *types.DeriveJob) (*types.EnqueueResult, error) {
		return &types.EnqueueResult{Queued: false, Reason: ReasonQueueNotConfigured}, nil
	}
	inlineRuns := 0
	fx.orch.RunInline = func(ctx context.Context, job *types.DeriveJob, snap *types.Snapshot) error {
		inlineRuns++
		return nil
	}

	res, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if inlineRuns != 1 {
		t.Errorf("inline runs = %d", inlineRuns)
	}
	if !res.Derive.RanInline || !res.Derive.InlineSucceeded || res.Derive.Queued {
		t.Errorf("derive status = %+v", res.Derive)
	}
	var sawNotice bool
	for _, n := range res.Notices {
		if strings.Contains(n, "derive ran inline") {
			sawNotice = true
		}
	}
	if !sawNotice {
		t.Errorf("notices = %v", res.Notices)
	}
}

func TestSyncInlineDeriveFailureIsNonFatal(t *testing.T) {
	fx := newOrchFixture(connectedState())
	fx.queue.EnqueueFunc = func(ctx context.Context, job *types.DeriveJob) (*types.EnqueueResult, error) {
		return &types.EnqueueResult{Queued: false, Reason: ReasonQueueNotConfigured}, nil
	}
	fx.orch.RunInline = func(ctx context.Context, job *types.DeriveJob, snap *types.Snapshot) error {
		return fmt.Errorf("no history")
	}

	res, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if res.Derive.InlineSucceeded {
		t.Error("inline derive failed, status must say so")
	}
	var sawNotice bool
	for _, n := range res.Notices {
		if strings.Contains(n, "inline derive failed") {
			sawNotice = true
		}
	}
	if !sawNotice {
		t.Errorf("notices = %v", res.Notices)
	}
}

func TestSyncPersistFailureIsNonFatal(t *testing.T) {
	fx := newOrchFixture(connectedState())
	fx.analytics.PersistSnapshotFunc = func(ctx context.Context, snap *types.Snapshot) (*types.PersistCounts, error) {
		return nil, fmt.Errorf("firestore unavailable")
	}

	res, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if res.Persistence != nil {
		t.Errorf("persistence = %+v, want nil", res.Persistence)
	}
	var sawNotice bool
	for _, n := range res.Notices {
		if strings.Contains(n, "persistence failed") {
			sawNotice = true
		}
	}
	if !sawNotice {
		t.Errorf("notices = %v", res.Notices)
	}
	if len(fx.syncUpdates) != 1 {
		t.Error("cursor still advances when persistence fails")
	}
}

func TestSyncStoreOutageReflectedInCapabilities(t *testing.T) {
	fx := newOrchFixture(connectedState())
	fx.exports.ReadRowsFunc = func(ctx context.Context, q shared.ExportQuery) (*types.ExportReadResult, error) {
		return &types.ExportReadResult{StoreAvailable: false, StoreError: "index missing"}, nil
	}

	res, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"})
	if err != nil {
		t.Fatalf("an export-store outage must not fail the sync: %v", err)
	}
	for _, c := range res.Capabilities {
		if c.StoreAvailable {
			t.Errorf("capability %s reports the store available", c.Key)
		}
	}
}

func TestSyncCancelledContextDoesNotAdvanceCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fx := newOrchFixture(connectedState())
	_, err := fx.orch.Sync(ctx, Request{UserID: "user-1"})
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("error = %v, want TransientError", err)
	}
	if len(fx.syncUpdates) != 0 {
		t.Error("a cancelled sync must not advance the cursor")
	}
}

func TestSyncArchivesSnapshot(t *testing.T) {
	fx := newOrchFixture(connectedState())

	var objects []string
	fx.orch.Blobs = &mocks.MockBlobStore{
		WriteFunc: func(ctx context.Context, bucket, object string, data []byte) error {
			if bucket != "artifacts" {
				t.Errorf("bucket = %q", bucket)
			}
			objects = append(objects, object)
			return nil
		},
	}
	fx.orch.Config.ArtifactBucket = "artifacts"

	if _, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"}); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if len(objects) != 1 || !strings.HasPrefix(objects[0], "syncs/user-1/") {
		t.Errorf("archived objects = %v", objects)
	}
}

// Both identity calls run concurrently, so when the vendor invalidates a
// token both can see a 401 before either refresh runs. The call that loses
// the refresh race must still be retried with the refreshed token.
func TestAuthRetryConcurrentLoserStillRetries(t *testing.T) {
	var inFlight stdsync.WaitGroup
	inFlight.Add(2)

	var permCalls, extCalls, refreshes atomic.Int32
	inner := &mockVendor{
		PermissionsFunc: func(ctx context.Context) ([]string, error) {
			if permCalls.Add(1) == 1 {
				inFlight.Done()
				inFlight.Wait()
				return nil, &httputil.HTTPError{StatusCode: http.StatusUnauthorized, Body: "expired token"}
			}
			return []string{"ACTIVITY_EXPORT"}, nil
		},
		ExternalUserIDFunc: func(ctx context.Context) (string, error) {
			if extCalls.Add(1) == 1 {
				inFlight.Done()
				inFlight.Wait()
				return "", &httputil.HTTPError{StatusCode: http.StatusUnauthorized, Body: "expired token"}
			}
			return "ext-user-1", nil
		},
	}
	vendor := newAuthRetryVendor(inner, func(ctx context.Context) error {
		refreshes.Add(1)
		return nil
	}, slog.Default())

	var (
		done    stdsync.WaitGroup
		perms   []string
		permErr error
		extID   string
		extErr  error
	)
	done.Add(2)
	go func() {
		defer done.Done()
		perms, permErr = vendor.Permissions(context.Background())
	}()
	go func() {
		defer done.Done()
		extID, extErr = vendor.ExternalUserID(context.Background())
	}()
	done.Wait()

	if permErr != nil || extErr != nil {
		t.Fatalf("identity calls failed after successful refresh: perms=%v ext=%v", permErr, extErr)
	}
	if len(perms) != 1 || extID != "ext-user-1" {
		t.Errorf("perms = %v, ext = %q", perms, extID)
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if permCalls.Load() != 2 || extCalls.Load() != 2 {
		t.Errorf("calls = %d/%d, want one retry each", permCalls.Load(), extCalls.Load())
	}
}

func TestSyncConcurrentIdentityAuthFailuresRecover(t *testing.T) {
	fx := newOrchFixture(connectedState())

	var inFlight stdsync.WaitGroup
	inFlight.Add(2)

	var permCalls, extCalls, refreshes atomic.Int32
	fx.vendor.PermissionsFunc = func(ctx context.Context) ([]string, error) {
		if permCalls.Add(1) == 1 {
			inFlight.Done()
			inFlight.Wait()
			return nil, &httputil.HTTPError{StatusCode: http.StatusUnauthorized, Body: "expired token"}
		}
		return []string{"ACTIVITY_EXPORT", "HEALTH_EXPORT", "HISTORICAL_EXPORT"}, nil
	}
	fx.vendor.ExternalUserIDFunc = func(ctx context.Context) (string, error) {
		if extCalls.Add(1) == 1 {
			inFlight.Done()
			inFlight.Wait()
			return "", &httputil.HTTPError{StatusCode: http.StatusUnauthorized, Body: "expired token"}
		}
		return "ext-user-1", nil
	}
	fx.connections.RefreshAccessTokenFunc = func(ctx context.Context, userID string) (string, error) {
		refreshes.Add(1)
		return "refreshed-token", nil
	}

	res, err := fx.orch.Sync(context.Background(), Request{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if res.ExternalUserID != "ext-user-1" {
		t.Errorf("external id = %q", res.ExternalUserID)
	}
	for _, n := range res.Notices {
		if strings.Contains(n, "using last known scopes") || strings.Contains(n, "using stored id") {
			t.Errorf("identity degraded despite successful refresh: %q", n)
		}
	}
	if len(fx.authErrors) != 0 {
		t.Errorf("auth errors recorded: %v", fx.authErrors)
	}
}
