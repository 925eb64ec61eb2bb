package sync

import "time"

// Lookback defaults, in days. Backfill is an explicit full-range request and
// always uses the longer span.
const (
	DefaultLookbackDays  = 7
	BackfillLookbackDays = 56
)

// TriggerBackfill marks an explicit full-range sync request.
const TriggerBackfill = "backfill"

// Window sources, in precedence order.
const (
	WindowSourceRequested = "requested"
	WindowSourceCursor    = "cursor"
	WindowSourceLookback  = "lookback"
)

// SyncWindow is the resolved boundary for one sync invocation. It is never
// persisted directly; its only durable effect is the new cursor.
type SyncWindow struct {
	Since        time.Time
	SinceISO     string
	LookbackDays int
	Source       string
}

// ResolveWindow decides the since boundary for this invocation. Precedence,
// first match wins: an explicit caller-supplied since, then the connection's
// cursor, then now minus the default lookback. A backfill trigger forces the
// lookback path with the longer span regardless of cursor.
func ResolveWindow(requestedSince string, trigger string, cursor *time.Time, now time.Time, defaultLookbackDays, backfillLookbackDays int) SyncWindow {
	if trigger == TriggerBackfill {
		since := now.AddDate(0, 0, -backfillLookbackDays)
		return SyncWindow{
			Since:        since,
			SinceISO:     since.UTC().Format(time.RFC3339),
			LookbackDays: backfillLookbackDays,
			Source:       WindowSourceLookback,
		}
	}

	if requestedSince != "" {
		if since, err := parseSince(requestedSince); err == nil {
			return SyncWindow{
				Since:        since,
				SinceISO:     since.UTC().Format(time.RFC3339),
				LookbackDays: defaultLookbackDays,
				Source:       WindowSourceRequested,
			}
		}
		// An unparseable since falls through to the cursor/lookback chain.
	}

	if cursor != nil && !cursor.IsZero() {
		return SyncWindow{
			Since:        *cursor,
			SinceISO:     cursor.UTC().Format(time.RFC3339),
			LookbackDays: defaultLookbackDays,
			Source:       WindowSourceCursor,
		}
	}

	since := now.AddDate(0, 0, -defaultLookbackDays)
	return SyncWindow{
		Since:        since,
		SinceISO:     since.UTC().Format(time.RFC3339),
		LookbackDays: defaultLookbackDays,
		Source:       WindowSourceLookback,
	}
}

func parseSince(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	_, err := time.Parse(time.RFC3339, value)
	return time.Time{}, err
}
