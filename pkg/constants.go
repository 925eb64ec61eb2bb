package shared

const (
	ProjectID = "stridecoach-project" // Can be overridden by env var in main if needed

	TopicDeriveDaily = "topic-derive-daily"

	CollectionConnections = "connections"
	CollectionExportRows  = "export_rows"
	CollectionUsers       = "users"

	SubcollectionActivities = "canonical_activities"
	SubcollectionSleep      = "sleep_records"
	SubcollectionDailies    = "daily_metrics"
	SubcollectionReports    = "daily_reports"

	// Vendor permission scopes.
	ScopeActivityExport   = "ACTIVITY_EXPORT"
	ScopeHealthExport     = "HEALTH_EXPORT"
	ScopeHistoricalExport = "HISTORICAL_EXPORT"
	ScopeWorkoutImport    = "WORKOUT_IMPORT"
	ScopeCoursesImport    = "COURSES_IMPORT"

	// Dataset keys the pipeline syncs.
	DatasetActivities = "activities"
	DatasetSleep      = "sleeps"
	DatasetDailies    = "dailies"
)
