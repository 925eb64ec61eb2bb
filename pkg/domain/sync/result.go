package sync

import (
	"time"

	"github.com/stridecoach/server/pkg/types"
)

// DeriveStatus reports what happened to the downstream derive step.
type DeriveStatus struct {
	Queued          bool   `json:"queued"`
	JobID           string `json:"jobId,omitempty"`
	RanInline       bool   `json:"ranInline"`
	InlineSucceeded bool   `json:"inlineSucceeded"`
}

// SyncResult is the full response envelope of one successful invocation.
// On hard failure the Orchestrator returns a typed error instead; a result
// is never partially constructed.
type SyncResult struct {
	UserID         string                    `json:"userId"`
	ExternalUserID string                    `json:"externalUserId"`
	Window         SyncWindow                `json:"window"`
	Permissions    []string                  `json:"permissions"`
	Capabilities   []types.DatasetCapability `json:"capabilities"`
	RowCounts      map[string]int            `json:"rowCounts"`
	Sources        map[string]string         `json:"sources"`
	Activities     []types.Activity          `json:"activities"`
	Sleep          []types.SleepRecord       `json:"sleep"`
	Dailies        []types.DailySummary      `json:"dailies"`
	Persistence    *types.PersistCounts      `json:"persistence,omitempty"`
	Derive         DeriveStatus              `json:"derive"`
	Notices        []string                  `json:"notices"`
	NewCursor      time.Time                 `json:"newCursor"`
}

// GroupRowsByDataset buckets export rows by their dataset key.
func GroupRowsByDataset(rows []types.ExportRow) map[string][]types.ExportRow {
	grouped := make(map[string][]types.ExportRow)
	for _, row := range rows {
		grouped[row.DatasetKey] = append(grouped[row.DatasetKey], row)
	}
	return grouped
}
