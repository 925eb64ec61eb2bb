package sync

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/stridecoach/server/pkg/types"
)

// durationMillisThreshold is the heuristic boundary above which a raw
// duration value is assumed to be milliseconds. Legitimately long durations
// reported in seconds above this value (27.7+ hours) are misread; do not
// change this without confirming real vendor payload shapes.
const durationMillisThreshold = 100000

var titleCaser = cases.Title(language.English)

// NormalizeActivity maps one loosely-typed vendor activity record into the
// canonical shape. Missing numeric fields stay nil, never zero.
func NormalizeActivity(raw map[string]interface{}) types.Activity {
	activityType := NormalizeTypeToken(strField(raw, "activityType", "type"))
	name := strField(raw, "activityName", "name")
	if name == "" && activityType != "" {
		name = titleCaser.String(strings.ReplaceAll(activityType, "_", " "))
	}

	act := types.Activity{
		ActivityID:       strField(raw, "activityId", "activity_id", "summaryId", "summary_id"),
		Name:             name,
		Type:             activityType,
		StartTime:        timeField(raw, "startTimeInSeconds", "startTime", "start_time"),
		DistanceKm:       distanceKmField(raw),
		DurationSeconds:  durationField(raw, "durationInSeconds", "duration", "durationSeconds", "duration_seconds"),
		AverageHeartRate: numField(raw, "averageHeartRateInBeatsPerMinute", "averageHeartRate", "average_heart_rate", "avgHr"),
		MaxHeartRate:     numField(raw, "maxHeartRateInBeatsPerMinute", "maxHeartRate", "max_heart_rate", "maxHr"),
		Calories:         numField(raw, "activeKilocalories", "calories", "kilocalories"),
		ElevationGainM:   numField(raw, "totalElevationGainInMeters", "elevationGainM", "elevation_gain_m"),
		ElevationLossM:   numField(raw, "totalElevationLossInMeters", "elevationLossM", "elevation_loss_m"),
		MaxSpeedMps:      numField(raw, "maxSpeedInMetersPerSecond", "maxSpeedMps", "max_speed_mps"),
		AverageCadence:   numField(raw, "averageRunCadenceInStepsPerMinute", "averageBikeCadenceInRoundsPerMinute", "averageCadence", "average_cadence"),
		MaxCadence:       numField(raw, "maxRunCadenceInStepsPerMinute", "maxBikeCadenceInRoundsPerMinute", "maxCadence", "max_cadence"),
		Laps:             sliceField(raw, "laps", "lapSummaries"),
		Splits:           sliceField(raw, "splitSummaries", "splits"),
		Intervals:        sliceField(raw, "intervalSummaries", "intervals"),
		RawTelemetry:     mapField(raw, "rawTelemetry", "raw_telemetry", "samples"),
	}

	act.AveragePaceSecPerKm = paceField(raw, act.DistanceKm, act.DurationSeconds)
	return act
}

// NormalizeSleep maps one raw sleep summary into the canonical shape.
// Records with no parseable date are reported via the second return value
// and discarded by the caller; that is not an error.
func NormalizeSleep(raw map[string]interface{}) (types.SleepRecord, bool) {
	date := dateField(raw, "calendarDate", "date")
	if date == "" {
		return types.SleepRecord{}, false
	}

	rec := types.SleepRecord{
		Date:              date,
		TotalSleepSeconds: durationField(raw, "durationInSeconds", "totalSleepSeconds", "total_sleep_seconds"),
		DeepSeconds:       durationField(raw, "deepSleepDurationInSeconds", "deepSleepSeconds"),
		LightSeconds:      durationField(raw, "lightSleepDurationInSeconds", "lightSleepSeconds"),
		RemSeconds:        durationField(raw, "remSleepInSeconds", "remSleepSeconds"),
		AwakeSeconds:      durationField(raw, "awakeDurationInSeconds", "awakeSeconds"),
		OverallScore:      sleepScoreField(raw),
	}

	if start := numField(raw, "startTimeInSeconds", "sleepStartTimestampGMT", "sleepStartMs"); start != nil {
		ms := int64(*start)
		if ms < 100_000_000_000 { // epoch seconds, not millis
			ms *= 1000
		}
		rec.SleepStartMs = &ms
		if rec.TotalSleepSeconds != nil {
			end := ms + int64(*rec.TotalSleepSeconds*1000)
			rec.SleepEndMs = &end
		}
	}
	return rec, true
}

// NormalizeDaily maps one raw daily wellness summary into the canonical
// shape. Dateless rows are discarded.
func NormalizeDaily(raw map[string]interface{}) (types.DailySummary, bool) {
	date := dateField(raw, "calendarDate", "date")
	if date == "" {
		return types.DailySummary{}, false
	}
	return types.DailySummary{
		Date:             date,
		Steps:            numField(raw, "steps", "totalSteps"),
		RestingHeartRate: numField(raw, "restingHeartRateInBeatsPerMinute", "restingHeartRate"),
		AverageStress:    numField(raw, "averageStressLevel", "averageStress"),
		ActiveCalories:   numField(raw, "activeKilocalories", "activeCalories"),
		TotalCalories:    numField(raw, "totalKilocalories", "totalCalories", "bmrKilocalories"),
	}, true
}

// NormalizeTypeToken lower-cases and space-normalizes an activity type so
// downstream equality comparisons are reliable, e.g. "Trail Running" and
// "TRAIL_RUNNING" both become "trail_running".
func NormalizeTypeToken(value string) string {
	token := strings.ToLower(strings.TrimSpace(value))
	token = strings.Join(strings.Fields(token), "_")
	return token
}

// --- loosely-typed field access ---

func numField(m map[string]interface{}, keys ...string) *float64 {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return &n
		case float32:
			f := float64(n)
			return &f
		case int:
			f := float64(n)
			return &f
		case int64:
			f := float64(n)
			return &f
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return &f
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func strField(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			switch s := v.(type) {
			case string:
				if s != "" {
					return s
				}
			case float64:
				return strconv.FormatFloat(s, 'f', -1, 64)
			case int64:
				return strconv.FormatInt(s, 10)
			case int:
				return strconv.Itoa(s)
			}
		}
	}
	return ""
}

func sliceField(m map[string]interface{}, keys ...string) []map[string]interface{} {
	for _, key := range keys {
		raw, ok := m[key].([]interface{})
		if !ok {
			continue
		}
		out := make([]map[string]interface{}, 0, len(raw))
		for _, item := range raw {
			if entry, ok := item.(map[string]interface{}); ok {
				out = append(out, entry)
			}
		}
		return out
	}
	return nil
}

func mapField(m map[string]interface{}, keys ...string) map[string]interface{} {
	for _, key := range keys {
		if entry, ok := m[key].(map[string]interface{}); ok {
			return entry
		}
	}
	return nil
}

func timeField(m map[string]interface{}, keys ...string) *time.Time {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case time.Time:
			utc := t.UTC()
			return &utc
		case string:
			for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
				if parsed, err := time.Parse(layout, t); err == nil {
					utc := parsed.UTC()
					return &utc
				}
			}
		default:
			if n := numField(m, key); n != nil {
				parsed := time.Unix(int64(*n), 0).UTC()
				return &parsed
			}
		}
	}
	return nil
}

func dateField(m map[string]interface{}, keys ...string) string {
	raw := strField(m, keys...)
	if raw == "" {
		return ""
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// durationField reads a duration and converts millisecond values to seconds.
// Values above the threshold are heuristically treated as milliseconds.
func durationField(m map[string]interface{}, keys ...string) *float64 {
	v := numField(m, keys...)
	if v == nil {
		return nil
	}
	secs := *v
	if secs > durationMillisThreshold {
		secs = secs / 1000
	}
	return &secs
}

func distanceKmField(m map[string]interface{}) *float64 {
	if meters := numField(m, "distanceInMeters", "distance_m"); meters != nil {
		km := *meters / 1000
		return &km
	}
	return numField(m, "distanceKm", "distance_km", "distance")
}

func paceField(m map[string]interface{}, distanceKm, durationSeconds *float64) *float64 {
	if minPerKm := numField(m, "averagePaceInMinutesPerKilometer", "averagePaceMinPerKm"); minPerKm != nil {
		secPerKm := *minPerKm * 60
		return &secPerKm
	}
	if pace := numField(m, "averagePaceSecPerKm", "average_pace_sec_per_km"); pace != nil {
		return pace
	}
	if distanceKm != nil && durationSeconds != nil && *distanceKm > 0 {
		pace := *durationSeconds / *distanceKm
		return &pace
	}
	return nil
}

func sleepScoreField(m map[string]interface{}) *float64 {
	if score := numField(m, "overallSleepScore", "overallScore", "sleepScore"); score != nil {
		return score
	}
	// Some payload shapes nest the score: {"overallSleepScore": {"value": 82}}
	if nested := mapField(m, "overallSleepScore"); nested != nil {
		return numField(nested, "value")
	}
	return nil
}
