package sync

import (
	"time"

	"github.com/stridecoach/server/pkg/types"
)

// ActivityKey returns the dedup identity of an activity: the vendor id when
// present, else a composite of start time and name.
func ActivityKey(a types.Activity) string {
	if a.ActivityID != "" {
		return a.ActivityID
	}
	start := "unknown"
	if a.StartTime != nil {
		start = a.StartTime.UTC().Format(time.RFC3339)
	}
	return start + "|" + a.Name
}

// DedupeActivities collapses repeated observations of the same real-world
// activity into one canonical record. Candidates must be supplied in tier
// order (store, upload, backfill, cache); conflicts are merged by folding
// left to right, so later candidates count as more recently produced.
func DedupeActivities(candidates []types.Activity) []types.Activity {
	byKey := make(map[string]types.Activity, len(candidates))
	order := make([]string, 0, len(candidates))

	for _, cand := range candidates {
		key := ActivityKey(cand)
		existing, seen := byKey[key]
		if !seen {
			byKey[key] = cand
			order = append(order, key)
			continue
		}
		byKey[key] = mergeActivities(existing, cand)
	}

	out := make([]types.Activity, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// mergeActivities combines two observations of the same activity, preferring
// whichever candidate is more complete field by field. later is the more
// recently produced of the two.
func mergeActivities(earlier, later types.Activity) types.Activity {
	merged := earlier

	if later.Name != "" {
		merged.Name = later.Name
	}
	if later.Type != "" {
		merged.Type = later.Type
	}
	if later.ActivityID != "" {
		merged.ActivityID = later.ActivityID
	}
	if later.StartTime != nil {
		merged.StartTime = later.StartTime
	}

	merged.DistanceKm = preferLater(earlier.DistanceKm, later.DistanceKm)
	merged.DurationSeconds = preferLater(earlier.DurationSeconds, later.DurationSeconds)
	merged.AverageHeartRate = preferLater(earlier.AverageHeartRate, later.AverageHeartRate)
	merged.Calories = preferLater(earlier.Calories, later.Calories)
	merged.AveragePaceSecPerKm = preferLater(earlier.AveragePaceSecPerKm, later.AveragePaceSecPerKm)
	merged.ElevationGainM = preferLater(earlier.ElevationGainM, later.ElevationGainM)
	merged.ElevationLossM = preferLater(earlier.ElevationLossM, later.ElevationLossM)
	merged.MaxSpeedMps = preferLater(earlier.MaxSpeedMps, later.MaxSpeedMps)
	merged.AverageCadence = preferLater(earlier.AverageCadence, later.AverageCadence)

	// Monotonic maxima: a larger reading is never less complete.
	merged.MaxHeartRate = preferMax(earlier.MaxHeartRate, later.MaxHeartRate)
	merged.MaxCadence = preferMax(earlier.MaxCadence, later.MaxCadence)

	merged.Laps = longerSlice(earlier.Laps, later.Laps)
	merged.Splits = longerSlice(earlier.Splits, later.Splits)
	merged.Intervals = longerSlice(earlier.Intervals, later.Intervals)
	merged.RawTelemetry = richerMap(earlier.RawTelemetry, later.RawTelemetry)

	return merged
}

// DedupeSleep collapses sleep records sharing a calendar date, folding left
// to right in tier order.
func DedupeSleep(candidates []types.SleepRecord) []types.SleepRecord {
	byDate := make(map[string]types.SleepRecord, len(candidates))
	order := make([]string, 0, len(candidates))

	for _, cand := range candidates {
		existing, seen := byDate[cand.Date]
		if !seen {
			byDate[cand.Date] = cand
			order = append(order, cand.Date)
			continue
		}
		byDate[cand.Date] = mergeSleep(existing, cand)
	}

	out := make([]types.SleepRecord, 0, len(order))
	for _, date := range order {
		out = append(out, byDate[date])
	}
	return out
}

func mergeSleep(earlier, later types.SleepRecord) types.SleepRecord {
	merged := earlier
	if later.SleepStartMs != nil {
		merged.SleepStartMs = later.SleepStartMs
	}
	if later.SleepEndMs != nil {
		merged.SleepEndMs = later.SleepEndMs
	}
	merged.TotalSleepSeconds = preferLater(earlier.TotalSleepSeconds, later.TotalSleepSeconds)
	merged.DeepSeconds = preferLater(earlier.DeepSeconds, later.DeepSeconds)
	merged.LightSeconds = preferLater(earlier.LightSeconds, later.LightSeconds)
	merged.RemSeconds = preferLater(earlier.RemSeconds, later.RemSeconds)
	merged.AwakeSeconds = preferLater(earlier.AwakeSeconds, later.AwakeSeconds)
	merged.OverallScore = preferLater(earlier.OverallScore, later.OverallScore)
	return merged
}

// DedupeDailies collapses daily summaries sharing a calendar date.
func DedupeDailies(candidates []types.DailySummary) []types.DailySummary {
	byDate := make(map[string]types.DailySummary, len(candidates))
	order := make([]string, 0, len(candidates))

	for _, cand := range candidates {
		existing, seen := byDate[cand.Date]
		if !seen {
			byDate[cand.Date] = cand
			order = append(order, cand.Date)
			continue
		}
		existing.Steps = preferLater(existing.Steps, cand.Steps)
		existing.RestingHeartRate = preferLater(existing.RestingHeartRate, cand.RestingHeartRate)
		existing.AverageStress = preferLater(existing.AverageStress, cand.AverageStress)
		existing.ActiveCalories = preferLater(existing.ActiveCalories, cand.ActiveCalories)
		existing.TotalCalories = preferLater(existing.TotalCalories, cand.TotalCalories)
		byDate[cand.Date] = existing
	}

	out := make([]types.DailySummary, 0, len(order))
	for _, date := range order {
		out = append(out, byDate[date])
	}
	return out
}

func preferLater(earlier, later *float64) *float64 {
	if later != nil {
		return later
	}
	return earlier
}

func preferMax(earlier, later *float64) *float64 {
	if earlier == nil {
		return later
	}
	if later == nil {
		return earlier
	}
	if *later > *earlier {
		return later
	}
	return earlier
}

func longerSlice(earlier, later []map[string]interface{}) []map[string]interface{} {
	if len(later) > len(earlier) {
		return later
	}
	if len(earlier) > len(later) {
		return earlier
	}
	if later != nil {
		return later
	}
	return earlier
}

func richerMap(earlier, later map[string]interface{}) map[string]interface{} {
	if len(later) > len(earlier) {
		return later
	}
	if len(earlier) > len(later) {
		return earlier
	}
	if later != nil {
		return later
	}
	return earlier
}
