// Package types holds the data model shared between the sync pipeline,
// its collaborators, and the entry points.
package types

import "time"

// ConnectionStatus is the lifecycle state of a linked wearable account.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionError        ConnectionStatus = "error"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// ConnectionState is the persisted record of a user's linked wearable
// account. LastSyncCursor, once set, only moves forward across
// successful syncs.
type ConnectionState struct {
	UserID         string           `firestore:"user_id"`
	ExternalUserID string           `firestore:"external_user_id"`
	GrantedScopes  []string         `firestore:"granted_scopes"`
	Status         ConnectionStatus `firestore:"status"`
	LastSyncAt     *time.Time       `firestore:"last_sync_at"`
	LastSyncCursor *time.Time       `firestore:"last_sync_cursor"`
	ErrorState     *ErrorState      `firestore:"error_state"`

	AccessToken  string     `firestore:"access_token"`
	RefreshToken string     `firestore:"refresh_token"`
	TokenExpiry  *time.Time `firestore:"token_expiry"`
}

// ErrorState records the most recent terminal failure on a connection.
type ErrorState struct {
	Message    string    `firestore:"message"`
	OccurredAt time.Time `firestore:"occurred_at"`
}

// SyncStateUpdate is a partial update applied to a ConnectionState after a
// sync attempt. Nil fields are left untouched; ClearError resets ErrorState.
type SyncStateUpdate struct {
	LastSyncAt     *time.Time
	LastSyncCursor *time.Time
	ErrorState     *ErrorState
	ClearError     bool
}

// ExportRow is one webhook-delivered vendor summary held in the export
// ingestion store. Rows are immutable once stored.
type ExportRow struct {
	ExternalUserID string                 `firestore:"external_user_id"`
	DatasetKey     string                 `firestore:"dataset_key"`
	SummaryID      string                 `firestore:"summary_id"`
	Source         string                 `firestore:"source"`
	RecordedAt     *time.Time             `firestore:"recorded_at"`
	ReceivedAt     time.Time              `firestore:"received_at"`
	Payload        map[string]interface{} `firestore:"payload"`
}

// ExportReadResult is the outcome of reading export rows for a window.
// StoreAvailable is false when the store itself failed; StoreError then
// carries its message.
type ExportReadResult struct {
	Rows           []ExportRow
	StoreAvailable bool
	StoreError     string
}

// Activity is the canonical deduplicated shape an activity converges to
// after merging all source tiers. Numeric fields are nil when the vendor
// did not report them; zero is reserved for genuinely zero values.
type Activity struct {
	ActivityID          string                   `firestore:"activity_id" json:"activityId"`
	Name                string                   `firestore:"name" json:"activityName"`
	Type                string                   `firestore:"type" json:"activityType"`
	StartTime           *time.Time               `firestore:"start_time" json:"startTime"`
	DistanceKm          *float64                 `firestore:"distance_km" json:"distanceKm"`
	DurationSeconds     *float64                 `firestore:"duration_seconds" json:"durationSeconds"`
	AverageHeartRate    *float64                 `firestore:"average_heart_rate" json:"averageHeartRate"`
	MaxHeartRate        *float64                 `firestore:"max_heart_rate" json:"maxHeartRate"`
	Calories            *float64                 `firestore:"calories" json:"calories"`
	AveragePaceSecPerKm *float64                 `firestore:"average_pace_sec_per_km" json:"averagePaceSecPerKm"`
	ElevationGainM      *float64                 `firestore:"elevation_gain_m" json:"elevationGainM"`
	ElevationLossM      *float64                 `firestore:"elevation_loss_m" json:"elevationLossM"`
	MaxSpeedMps         *float64                 `firestore:"max_speed_mps" json:"maxSpeedMps"`
	AverageCadence      *float64                 `firestore:"average_cadence" json:"averageCadence"`
	MaxCadence          *float64                 `firestore:"max_cadence" json:"maxCadence"`
	Laps                []map[string]interface{} `firestore:"laps" json:"lapSummaries,omitempty"`
	Splits              []map[string]interface{} `firestore:"splits" json:"splitSummaries,omitempty"`
	Intervals           []map[string]interface{} `firestore:"intervals" json:"intervalSummaries,omitempty"`
	RawTelemetry        map[string]interface{}   `firestore:"raw_telemetry" json:"rawTelemetry,omitempty"`
}

// SleepRecord is the canonical shape of one night of sleep.
type SleepRecord struct {
	Date              string   `firestore:"date" json:"date"`
	SleepStartMs      *int64   `firestore:"sleep_start_ms" json:"sleepStartMs"`
	SleepEndMs        *int64   `firestore:"sleep_end_ms" json:"sleepEndMs"`
	TotalSleepSeconds *float64 `firestore:"total_sleep_seconds" json:"totalSleepSeconds"`
	DeepSeconds       *float64 `firestore:"deep_seconds" json:"deepSleepSeconds"`
	LightSeconds      *float64 `firestore:"light_seconds" json:"lightSleepSeconds"`
	RemSeconds        *float64 `firestore:"rem_seconds" json:"remSleepSeconds"`
	AwakeSeconds      *float64 `firestore:"awake_seconds" json:"awakeSeconds"`
	OverallScore      *float64 `firestore:"overall_score" json:"overallScore"`
}

// DailySummary is the canonical shape of one day of wellness metrics.
type DailySummary struct {
	Date             string   `firestore:"date" json:"date"`
	Steps            *float64 `firestore:"steps" json:"steps"`
	RestingHeartRate *float64 `firestore:"resting_heart_rate" json:"restingHeartRate"`
	AverageStress    *float64 `firestore:"average_stress" json:"averageStressLevel"`
	ActiveCalories   *float64 `firestore:"active_calories" json:"activeCalories"`
	TotalCalories    *float64 `firestore:"total_calories" json:"totalCalories"`
}

// DatasetCapability reports, per dataset, whether sync is possible and why
// not when it is disabled.
type DatasetCapability struct {
	Key               string `json:"key"`
	PermissionGranted bool   `json:"permissionGranted"`
	StoreAvailable    bool   `json:"storeAvailable"`
	RowCountInWindow  int    `json:"rowCountInWindow"`
	EnabledForSync    bool   `json:"enabledForSync"`
	Reason            string `json:"reason,omitempty"`
}

// Snapshot is the bundle handed to the analytics persistence store after a
// sync produced canonical records.
type Snapshot struct {
	UserID         string         `json:"userId"`
	ExternalUserID string         `json:"externalUserId"`
	Activities     []Activity     `json:"activities"`
	Sleep          []SleepRecord  `json:"sleep"`
	Dailies        []DailySummary `json:"dailies"`
}

// PersistCounts reports how many records the analytics store upserted.
type PersistCounts struct {
	ActivitiesUpserted   int `json:"activitiesUpserted"`
	DailyMetricsUpserted int `json:"dailyMetricsUpserted"`
}

// DeriveJob is the payload enqueued for the downstream derive worker.
type DeriveJob struct {
	JobID          string    `json:"jobId"`
	UserID         string    `json:"userId"`
	ExternalUserID string    `json:"externalUserId"`
	SinceISO       string    `json:"sinceIso"`
	TriggeredAt    time.Time `json:"triggeredAt"`
	ActivityCount  int       `json:"activityCount"`
}

// EnqueueResult is the outcome of a derive-job enqueue attempt.
type EnqueueResult struct {
	Queued bool   `json:"queued"`
	JobID  string `json:"jobId,omitempty"`
	Reason string `json:"reason,omitempty"`
}
