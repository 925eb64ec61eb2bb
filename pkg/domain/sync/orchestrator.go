// Package sync implements the wearable-data synchronization pipeline: the
// tiered acquisition chain, canonicalization, deduplication, and the
// orchestration around an unreliable vendor API.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	shared "github.com/stridecoach/server/pkg"
	"github.com/stridecoach/server/pkg/observability"
	"github.com/stridecoach/server/pkg/types"
)

// ReasonQueueNotConfigured is the enqueue-failure reason that switches the
// derive step to the inline fallback.
const ReasonQueueNotConfigured = "queue not configured"

// Request is one caller-initiated sync invocation.
type Request struct {
	UserID string
	// Since optionally overrides the window boundary (ISO date or RFC3339).
	Since string
	// Trigger is "backfill" for explicit full-range requests.
	Trigger string
}

// Config carries the sync tunables.
type Config struct {
	Cooldown             time.Duration
	DefaultLookbackDays  int
	BackfillLookbackDays int
	MaxWindowSeconds     int64
	ArtifactBucket       string
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.DefaultLookbackDays <= 0 {
		c.DefaultLookbackDays = DefaultLookbackDays
	}
	if c.BackfillLookbackDays <= 0 {
		c.BackfillLookbackDays = BackfillLookbackDays
	}
	if c.MaxWindowSeconds <= 0 {
		c.MaxWindowSeconds = MaxVendorWindowSeconds
	}
	return c
}

// VendorFactory builds a vendor API client bound to one user's credentials.
type VendorFactory func(userID string) VendorAPI

// InlineDeriveFunc runs the derive step synchronously when the queue is not
// configured.
type InlineDeriveFunc func(ctx context.Context, job *types.DeriveJob, snap *types.Snapshot) error

// Orchestrator is the top-level entry point of the pipeline.
type Orchestrator struct {
	Connections shared.ConnectionStore
	Exports     shared.ExportStore
	Analytics   shared.AnalyticsStore
	Queue       shared.DeriveQueue
	Telemetry   shared.Telemetry
	Blobs       shared.BlobStore
	Notify      shared.ReconnectNotifier
	NewVendor   VendorFactory
	RunInline   InlineDeriveFunc
	Logger      *slog.Logger
	Config      Config

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time

	// leases serializes invocations per user within this process. The gate
	// itself is a pure timestamp check, so without this two racing
	// invocations could both pass it. Multi-instance deployments still need
	// an external lease.
	leases stdsync.Map
}

// Sync runs the full pipeline for one user. It returns a typed error for
// hard failures (AuthError, RateLimitError, TransientError); every other
// failure mode is absorbed into the result's notices.
func (o *Orchestrator) Sync(ctx context.Context, req Request) (*SyncResult, error) {
	unlock := o.acquireLease(req.UserID)
	defer unlock()

	logger := o.logger().With("user_id", req.UserID)
	cfg := o.Config.withDefaults()
	now := o.now()

	res, err := o.run(ctx, req, cfg, now, logger)
	if err != nil {
		observability.RecordSyncOutcome(outcomeLabel(err))
		if o.Telemetry != nil {
			o.Telemetry.CaptureError(err, map[string]interface{}{"user_id": req.UserID, "trigger": req.Trigger})
		}
		return nil, err
	}

	observability.RecordSyncOutcome("success")
	observability.RecordCursor(res.NewCursor)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request, cfg Config, now time.Time, logger *slog.Logger) (*SyncResult, error) {
	// 1. Connection + credential.
	state, err := o.Connections.GetState(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("read connection state: %w", err)
	}
	if state == nil || state.Status == types.ConnectionDisconnected {
		return nil, &AuthError{Message: "no linked wearable connection"}
	}

	if _, err := o.Connections.GetValidAccessToken(ctx, req.UserID); err != nil {
		o.markAuthError(ctx, req.UserID, err, logger)
		return nil, &AuthError{Message: "could not obtain access token", Cause: err}
	}

	// 2. Rate limit, skipped for explicit backfills.
	if req.Trigger != TriggerBackfill {
		if d := CheckRateLimit(state.LastSyncAt, now, cfg.Cooldown); !d.Allowed {
			return nil, &RateLimitError{RetryAfterSeconds: d.RetryAfterSeconds}
		}
	}

	// 3. Window.
	win := ResolveWindow(req.Since, req.Trigger, state.LastSyncCursor, now, cfg.DefaultLookbackDays, cfg.BackfillLookbackDays)
	logger.Info("Sync window resolved", "since", win.SinceISO, "source", win.Source, "lookback_days", win.LookbackDays)

	var notices []string

	vendor := newAuthRetryVendor(o.NewVendor(req.UserID), func(ctx context.Context) error {
		_, err := o.Connections.RefreshAccessToken(ctx, req.UserID)
		return err
	}, logger)

	// 4. Permissions and account id are independent; fetch concurrently.
	perms, externalID, identityNotices, err := o.fetchIdentity(ctx, vendor, state)
	if err != nil {
		o.markAuthError(ctx, req.UserID, err, logger)
		return nil, err
	}
	notices = append(notices, identityNotices...)

	// 5. Export rows for the window.
	storeAvailable := true
	storeError := ""
	var rows []types.ExportRow
	readRes, err := o.Exports.ReadRows(ctx, shared.ExportQuery{ExternalUserID: externalID, SinceISO: win.SinceISO})
	switch {
	case err != nil:
		storeAvailable = false
		storeError = err.Error()
	case !readRes.StoreAvailable:
		storeAvailable = false
		storeError = readRes.StoreError
	default:
		rows = readRes.Rows
	}

	grouped := GroupRowsByDataset(rows)
	rowCounts := make(map[string]int, len(Datasets))
	for _, ds := range Datasets {
		rowCounts[ds.Key] = len(grouped[ds.Key])
	}

	// 6. Capabilities.
	caps := ResolveCapabilities(perms, storeAvailable, storeError, rowCounts)
	grantedByKey := make(map[string]bool, len(caps))
	for _, c := range caps {
		grantedByKey[c.Key] = c.PermissionGranted
	}

	// 7. Fallback chains per dataset family.
	fetcher := &FallbackFetcher{
		Vendor:           vendor,
		Cache:            o.Analytics,
		UserID:           req.UserID,
		MaxWindowSeconds: cfg.MaxWindowSeconds,
		Logger:           logger,
	}
	hasHistorical := HasGrantedScope(perms, shared.ScopeHistoricalExport)

	sources := make(map[string]string, len(Datasets))
	var activities []types.Activity
	var sleep []types.SleepRecord
	var dailies []types.DailySummary

	for _, ds := range Datasets {
		if !grantedByKey[ds.Key] {
			sources[ds.Key] = "disabled"
			continue
		}

		outcome, fetchErr := fetcher.Fetch(ctx, FetchInput{
			Dataset:            ds.Key,
			StoreRows:          grouped[ds.Key],
			Since:              win.Since,
			Until:              now,
			LookbackDays:       win.LookbackDays,
			HasHistoricalScope: hasHistorical,
		})
		if fetchErr != nil {
			if IsCancellation(fetchErr) {
				return nil, &TransientError{Cause: fetchErr}
			}
			o.markAuthError(ctx, req.UserID, fetchErr, logger)
			return nil, fetchErr
		}

		notices = append(notices, outcome.Notices...)
		sources[ds.Key] = outcome.Source.String()
		if len(outcome.Records) > 0 {
			observability.RecordTierHit(ds.Key, outcome.Source.String())
		}

		switch ds.Key {
		case shared.DatasetActivities:
			candidates := make([]types.Activity, 0, len(outcome.Records))
			for _, raw := range outcome.Records {
				candidates = append(candidates, NormalizeActivity(raw))
			}
			activities = DedupeActivities(candidates)
		case shared.DatasetSleep:
			candidates := make([]types.SleepRecord, 0, len(outcome.Records))
			for _, raw := range outcome.Records {
				if rec, ok := NormalizeSleep(raw); ok {
					candidates = append(candidates, rec)
				}
			}
			sleep = DedupeSleep(candidates)
		case shared.DatasetDailies:
			candidates := make([]types.DailySummary, 0, len(outcome.Records))
			for _, raw := range outcome.Records {
				if rec, ok := NormalizeDaily(raw); ok {
					candidates = append(candidates, rec)
				}
			}
			dailies = DedupeDailies(candidates)
		}
	}

	snap := &types.Snapshot{
		UserID:         req.UserID,
		ExternalUserID: externalID,
		Activities:     activities,
		Sleep:          sleep,
		Dailies:        dailies,
	}

	// 8. Persist canonical records. Failure here never fails the sync.
	var counts *types.PersistCounts
	if counts, err = o.Analytics.PersistSnapshot(ctx, snap); err != nil {
		notices = append(notices, fmt.Sprintf("persistence failed (%v); canonical records will be retried on the next sync", err))
		logger.Warn("Snapshot persistence failed", "error", err)
		counts = nil
	}

	notices = append(notices, o.archiveSnapshot(ctx, cfg, snap, now, logger)...)

	// A cancelled caller must not advance the cursor.
	if err := ctx.Err(); err != nil {
		return nil, &TransientError{Cause: err}
	}

	// 9. Advance the cursor unconditionally, even on an empty sync: this is
	// what keeps repeated empty syncs cheap. The cursor never moves
	// backwards.
	newCursor := now
	if state.LastSyncCursor != nil && state.LastSyncCursor.After(newCursor) {
		newCursor = *state.LastSyncCursor
	}
	if err := o.Connections.MarkSyncState(ctx, req.UserID, types.SyncStateUpdate{
		LastSyncAt:     &now,
		LastSyncCursor: &newCursor,
		ClearError:     true,
	}); err != nil {
		notices = append(notices, fmt.Sprintf("failed to record sync state (%v)", err))
		logger.Warn("Sync state update failed", "error", err)
	}

	// 10. Downstream derive job.
	derive := o.dispatchDerive(ctx, req, snap, win, now, &notices, logger)

	result := &SyncResult{
		UserID:         req.UserID,
		ExternalUserID: externalID,
		Window:         win,
		Permissions:    perms,
		Capabilities:   caps,
		RowCounts:      rowCounts,
		Sources:        sources,
		Activities:     activities,
		Sleep:          sleep,
		Dailies:        dailies,
		Persistence:    counts,
		Derive:         derive,
		Notices:        notices,
		NewCursor:      newCursor,
	}

	// 11. Telemetry is fire-and-forget.
	if o.Telemetry != nil {
		o.Telemetry.CaptureEvent("wearable_sync_completed", map[string]interface{}{
			"user_id":        req.UserID,
			"trigger":        req.Trigger,
			"window_source":  win.Source,
			"activity_count": len(activities),
			"sleep_count":    len(sleep),
			"daily_count":    len(dailies),
			"notice_count":   len(notices),
		})
	}

	logger.Info("Sync completed",
		"activities", len(activities), "sleep", len(sleep), "dailies", len(dailies),
		"cursor", newCursor.UTC().Format(time.RFC3339))
	return result, nil
}

// fetchIdentity pulls vendor permissions and the external account id
// concurrently. Auth failures are terminal; anything else degrades to the
// stored connection values with a notice.
func (o *Orchestrator) fetchIdentity(ctx context.Context, vendor VendorAPI, state *types.ConnectionState) ([]string, string, []string, error) {
	var (
		wg       stdsync.WaitGroup
		perms    []string
		permsErr error
		extID    string
		extErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		perms, permsErr = vendor.Permissions(ctx)
	}()
	go func() {
		defer wg.Done()
		extID, extErr = vendor.ExternalUserID(ctx)
	}()
	wg.Wait()

	for _, err := range []error{permsErr, extErr} {
		if err == nil {
			continue
		}
		if IsCancellation(err) {
			return nil, "", nil, &TransientError{Cause: err}
		}
		if IsAuthClass(err) {
			return nil, "", nil, &AuthError{Message: "vendor identity lookup", Cause: err}
		}
	}

	var notices []string
	if permsErr != nil {
		perms = state.GrantedScopes
		notices = append(notices, fmt.Sprintf("permission lookup failed (%v); using last known scopes", permsErr))
	}
	if extErr != nil || extID == "" {
		extID = state.ExternalUserID
		if extErr != nil {
			notices = append(notices, fmt.Sprintf("account id lookup failed (%v); using stored id", extErr))
		}
	}
	return perms, extID, notices, nil
}

// dispatchDerive enqueues the downstream derive job, falling back to the
// inline runner when the queue is not configured. Neither path can fail the
// sync.
func (o *Orchestrator) dispatchDerive(ctx context.Context, req Request, snap *types.Snapshot, win SyncWindow, now time.Time, notices *[]string, logger *slog.Logger) DeriveStatus {
	job := &types.DeriveJob{
		JobID:          uuid.NewString(),
		UserID:         req.UserID,
		ExternalUserID: snap.ExternalUserID,
		SinceISO:       win.SinceISO,
		TriggeredAt:    now,
		ActivityCount:  len(snap.Activities),
	}

	status := DeriveStatus{JobID: job.JobID}
	res, err := o.Queue.Enqueue(ctx, job)
	if err != nil {
		*notices = append(*notices, fmt.Sprintf("derive enqueue failed (%v)", err))
		return status
	}
	if res.Queued {
		status.Queued = true
		if res.JobID != "" {
			status.JobID = res.JobID
		}
		return status
	}

	if res.Reason != ReasonQueueNotConfigured {
		*notices = append(*notices, fmt.Sprintf("derive job not queued: %s", res.Reason))
		return status
	}

	// Recognized "queue not configured": run the derive step inline.
	status.RanInline = true
	if o.RunInline == nil {
		*notices = append(*notices, "derive queue not configured and no inline runner available")
		return status
	}
	if err := o.RunInline(ctx, job, snap); err != nil {
		*notices = append(*notices, fmt.Sprintf("derive queue not configured; inline derive failed (%v)", err))
		logger.Warn("Inline derive failed", "error", err)
		return status
	}
	status.InlineSucceeded = true
	*notices = append(*notices, "derive queue not configured; derive ran inline")
	return status
}

// archiveSnapshot writes the raw canonical bundle to the artifact bucket.
// Best effort only.
func (o *Orchestrator) archiveSnapshot(ctx context.Context, cfg Config, snap *types.Snapshot, now time.Time, logger *slog.Logger) []string {
	if o.Blobs == nil || cfg.ArtifactBucket == "" {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return []string{fmt.Sprintf("snapshot archive skipped (%v)", err)}
	}
	object := fmt.Sprintf("syncs/%s/%s.json", snap.UserID, now.UTC().Format("20060102T150405Z"))
	if err := o.Blobs.Write(ctx, cfg.ArtifactBucket, object, data); err != nil {
		logger.Warn("Snapshot archive failed", "object", object, "error", err)
		return []string{fmt.Sprintf("snapshot archive failed (%v)", err)}
	}
	return nil
}

func (o *Orchestrator) markAuthError(ctx context.Context, userID string, cause error, logger *slog.Logger) {
	if err := o.Connections.MarkAuthError(ctx, userID, cause.Error()); err != nil {
		logger.Warn("Failed to record auth error", "error", err)
	}
	if o.Notify != nil {
		if err := o.Notify.NotifyReconnectRequired(ctx, userID, cause.Error()); err != nil {
			logger.Warn("Failed to send reconnect notification", "error", err)
		}
	}
}

func (o *Orchestrator) acquireLease(userID string) func() {
	muAny, _ := o.leases.LoadOrStore(userID, &stdsync.Mutex{})
	mu := muAny.(*stdsync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func outcomeLabel(err error) string {
	switch {
	case IsAuthClass(err):
		return "auth_error"
	default:
		switch err.(type) {
		case *RateLimitError:
			return "rate_limited"
		case *TransientError:
			return "cancelled"
		default:
			return "error"
		}
	}
}

// authRetryVendor decorates a VendorAPI with the one-shot refresh-and-retry
// rule: the first authentication-class failure triggers a single token
// refresh and a retry of the same call; only a failure on a call that
// already ran against the refreshed token is terminal. gen counts
// successful refreshes so concurrent calls can tell whether their failed
// attempt predates the refresh.
type authRetryVendor struct {
	inner   VendorAPI
	refresh func(ctx context.Context) error
	logger  *slog.Logger

	mu         stdsync.Mutex
	refreshed  bool
	refreshErr error
	gen        int
}

func newAuthRetryVendor(inner VendorAPI, refresh func(ctx context.Context) error, logger *slog.Logger) *authRetryVendor {
	return &authRetryVendor{inner: inner, refresh: refresh, logger: logger}
}

func (v *authRetryVendor) Permissions(ctx context.Context) ([]string, error) {
	return withAuthRetry(ctx, v, func() ([]string, error) { return v.inner.Permissions(ctx) })
}

func (v *authRetryVendor) ExternalUserID(ctx context.Context) (string, error) {
	return withAuthRetry(ctx, v, func() (string, error) { return v.inner.ExternalUserID(ctx) })
}

func (v *authRetryVendor) UploadedSummaries(ctx context.Context, dataset string, w Window) ([]map[string]interface{}, error) {
	return withAuthRetry(ctx, v, func() ([]map[string]interface{}, error) {
		return v.inner.UploadedSummaries(ctx, dataset, w)
	})
}

func (v *authRetryVendor) BackfillSummaries(ctx context.Context, dataset string, w Window) ([]map[string]interface{}, error) {
	return withAuthRetry(ctx, v, func() ([]map[string]interface{}, error) {
		return v.inner.BackfillSummaries(ctx, dataset, w)
	})
}

func withAuthRetry[T any](ctx context.Context, v *authRetryVendor, call func() (T, error)) (T, error) {
	attemptGen := v.tokenGeneration()
	out, err := call()
	if err == nil || !IsAuthClass(err) {
		return out, err
	}

	v.logger.Warn("Vendor call returned auth failure", "error", err)
	retry, refreshErr := v.refreshOnce(ctx, attemptGen)
	if refreshErr != nil {
		return out, &AuthError{Message: "token refresh failed", Cause: refreshErr}
	}
	if !retry {
		return out, &AuthError{Message: "authentication failed after token refresh", Cause: err}
	}

	out, err = call()
	if err != nil && IsAuthClass(err) {
		return out, &AuthError{Message: "authentication failed after token refresh", Cause: err}
	}
	return out, err
}

func (v *authRetryVendor) tokenGeneration() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gen
}

// refreshOnce runs the single allowed refresh, serialized so a concurrent
// caller blocks until it completes. It reports whether the failed attempt
// should be retried: true when the token was (or just got) refreshed after
// the attempt began; false when the attempt already ran against the
// refreshed token, which makes its failure terminal.
func (v *authRetryVendor) refreshOnce(ctx context.Context, attemptGen int) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.gen > attemptGen {
		// A concurrent call refreshed while this attempt was in flight.
		return true, nil
	}
	if v.refreshed {
		return false, v.refreshErr
	}

	v.refreshed = true
	v.logger.Warn("Forcing token refresh")
	if err := v.refresh(ctx); err != nil {
		v.refreshErr = err
		return false, err
	}
	v.gen++
	return true, nil
}
