// Package database adapts Firestore to the stores the sync pipeline
// depends on.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	shared "github.com/stridecoach/server/pkg"
	"github.com/stridecoach/server/pkg/domain/sync"
	"github.com/stridecoach/server/pkg/infrastructure/oauth"
	storage "github.com/stridecoach/server/pkg/storage/firestore"
	"github.com/stridecoach/server/pkg/types"
)

// FirestoreAdapter provides the connection, export, and analytics stores on
// top of Firestore. It wraps our typed storage client.
type FirestoreAdapter struct {
	Client   *firestore.Client
	storage  *storage.Client
	oauthCfg oauth.Config
}

func NewFirestoreAdapter(client *firestore.Client, oauthCfg oauth.Config) *FirestoreAdapter {
	return &FirestoreAdapter{
		Client:   client,
		storage:  storage.NewClient(client),
		oauthCfg: oauthCfg,
	}
}

// --- connection store ---

func (a *FirestoreAdapter) GetState(ctx context.Context, userID string) (*types.ConnectionState, error) {
	state, err := a.storage.Connections().Doc(userID).Get(ctx)
	if err != nil {
		return nil, err
	}
	if state != nil && state.UserID == "" {
		state.UserID = userID
	}
	return state, nil
}

func (a *FirestoreAdapter) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	tok, err := a.tokenSource(userID).Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (a *FirestoreAdapter) RefreshAccessToken(ctx context.Context, userID string) (string, error) {
	tok, err := a.tokenSource(userID).ForceRefresh(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (a *FirestoreAdapter) MarkAuthError(ctx context.Context, userID, message string) error {
	return a.storage.Connections().Doc(userID).Update(ctx, map[string]interface{}{
		"status": string(types.ConnectionError),
		"error_state": map[string]interface{}{
			"message":     message,
			"occurred_at": time.Now(),
		},
	})
}

func (a *FirestoreAdapter) MarkSyncState(ctx context.Context, userID string, update types.SyncStateUpdate) error {
	fields := map[string]interface{}{}
	if update.LastSyncAt != nil {
		fields["last_sync_at"] = *update.LastSyncAt
	}
	if update.LastSyncCursor != nil {
		fields["last_sync_cursor"] = *update.LastSyncCursor
	}
	if update.ErrorState != nil {
		fields["error_state"] = map[string]interface{}{
			"message":     update.ErrorState.Message,
			"occurred_at": update.ErrorState.OccurredAt,
		}
	} else if update.ClearError {
		fields["error_state"] = firestore.Delete
		fields["status"] = string(types.ConnectionConnected)
	}
	if len(fields) == 0 {
		return nil
	}
	return a.storage.Connections().Doc(userID).Update(ctx, fields)
}

// tokenSource builds a per-user token source over this adapter. The source
// serializes refreshes internally; the per-user lease above serializes
// whole invocations.
func (a *FirestoreAdapter) tokenSource(userID string) oauth.TokenSource {
	return oauth.NewConnectionTokenSource(a, userID, a.oauthCfg)
}

// GetConnection and UpdateConnection satisfy oauth.ConnectionDocs.

func (a *FirestoreAdapter) GetConnection(ctx context.Context, userID string) (*types.ConnectionState, error) {
	return a.GetState(ctx, userID)
}

func (a *FirestoreAdapter) UpdateConnection(ctx context.Context, userID string, fields map[string]interface{}) error {
	return a.storage.Connections().Doc(userID).Update(ctx, fields)
}

// --- export ingestion store ---

// ReadRows queries webhook export rows received since the window boundary.
// A store-level failure is reported through the result rather than the
// error so callers can degrade to the vendor tiers.
func (a *FirestoreAdapter) ReadRows(ctx context.Context, q shared.ExportQuery) (*types.ExportReadResult, error) {
	since, err := time.Parse(time.RFC3339, q.SinceISO)
	if err != nil {
		return nil, fmt.Errorf("invalid since value %q: %w", q.SinceISO, err)
	}

	coll := a.storage.ExportRows()
	query := coll.Query().
		Where("external_user_id", "==", q.ExternalUserID).
		Where("received_at", ">=", since)

	rows, err := coll.GetAll(ctx, query)
	if err != nil {
		return &types.ExportReadResult{StoreAvailable: false, StoreError: err.Error()}, nil
	}
	return &types.ExportReadResult{Rows: rows, StoreAvailable: true}, nil
}

// --- analytics persistence store ---

// PersistSnapshot upserts canonical records under the user document.
// Activities keep their merge key as document id so re-syncs overwrite
// instead of duplicating.
func (a *FirestoreAdapter) PersistSnapshot(ctx context.Context, snap *types.Snapshot) (*types.PersistCounts, error) {
	counts := &types.PersistCounts{}

	activities := a.storage.UserActivities(snap.UserID)
	for i := range snap.Activities {
		act := snap.Activities[i]
		if err := activities.Doc(docID(sync.ActivityKey(act))).Set(ctx, &act); err != nil {
			return counts, fmt.Errorf("persist activity: %w", err)
		}
		counts.ActivitiesUpserted++
	}

	sleepColl := a.storage.UserSleep(snap.UserID)
	for i := range snap.Sleep {
		rec := snap.Sleep[i]
		if err := sleepColl.Doc(rec.Date).Set(ctx, &rec); err != nil {
			return counts, fmt.Errorf("persist sleep record: %w", err)
		}
		counts.DailyMetricsUpserted++
	}

	dailies := a.storage.UserDailies(snap.UserID)
	for i := range snap.Dailies {
		rec := snap.Dailies[i]
		if err := dailies.Doc(rec.Date).Set(ctx, &rec); err != nil {
			return counts, fmt.Errorf("persist daily summary: %w", err)
		}
		counts.DailyMetricsUpserted++
	}

	return counts, nil
}

// QueryCachedActivities returns previously persisted canonical activities
// inside the lookback window as raw records, for the cache tier.
func (a *FirestoreAdapter) QueryCachedActivities(ctx context.Context, userID string, lookbackDays int) ([]map[string]interface{}, error) {
	cutoff := time.Now().AddDate(0, 0, -lookbackDays)
	coll := a.storage.UserActivities(userID)
	query := coll.Query().Where("start_time", ">=", cutoff)
	return coll.GetAllRaw(ctx, query)
}

// LoadSnapshot rebuilds a snapshot from the persisted canonical records, for
// derive runs that are decoupled from the sync that produced them.
func (a *FirestoreAdapter) LoadSnapshot(ctx context.Context, userID string, lookbackDays int) (*types.Snapshot, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -lookbackDays)
	cutoffDate := cutoff.Format("2006-01-02")

	actColl := a.storage.UserActivities(userID)
	activities, err := actColl.GetAll(ctx, actColl.Query().Where("start_time", ">=", cutoff))
	if err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}

	sleepColl := a.storage.UserSleep(userID)
	sleep, err := sleepColl.GetAll(ctx, sleepColl.Query().Where("date", ">=", cutoffDate))
	if err != nil {
		return nil, fmt.Errorf("load sleep records: %w", err)
	}

	dailyColl := a.storage.UserDailies(userID)
	dailies, err := dailyColl.GetAll(ctx, dailyColl.Query().Where("date", ">=", cutoffDate))
	if err != nil {
		return nil, fmt.Errorf("load daily summaries: %w", err)
	}

	return &types.Snapshot{
		UserID:     userID,
		Activities: activities,
		Sleep:      sleep,
		Dailies:    dailies,
	}, nil
}

// SaveDailyReport upserts a derived report under the user document, keyed by
// date. The report is stored through a JSON round trip so its wire shape and
// its persisted shape stay identical.
func (a *FirestoreAdapter) SaveDailyReport(ctx context.Context, userID, date string, report interface{}) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal daily report: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode daily report: %w", err)
	}
	_, err = a.Client.Collection(shared.CollectionUsers).Doc(userID).
		Collection(shared.SubcollectionReports).Doc(date).Set(ctx, fields)
	if err != nil {
		return fmt.Errorf("persist daily report: %w", err)
	}
	return nil
}

// docID sanitizes a merge key into a Firestore document id. Slashes would
// otherwise split the id into path segments.
func docID(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		if r == '/' {
			r = '_'
		}
		out = append(out, r)
	}
	return string(out)
}
