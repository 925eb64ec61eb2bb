// Package derive computes daily training-load and readiness reports from a
// synced snapshot. It is pure computation: the queue worker and the inline
// fallback both call into it.
package derive

import (
	"math"
	"time"

	"github.com/stridecoach/server/pkg/types"
)

// ACWR zone boundaries. Acute load is the last 7 days, chronic the last 28.
const (
	acwrUnder        = 0.8
	acwrOptimalHigh  = 1.3
	acwrElevatedHigh = 1.5
)

// Readiness tier boundaries on the 0-100 score.
const (
	readinessHighBound     = 75
	readinessModerateBound = 50
)

// historyDays is the load-history horizon.
const historyDays = 28

// intensityFactors weight session minutes by heart-rate zone.
var intensityFactors = [...]float64{1.0, 1.3, 1.6, 1.9, 2.3}

// LoadReport is the acute:chronic workload summary.
type LoadReport struct {
	AcuteLoad      float64 `json:"acuteLoad"`
	ChronicLoad    float64 `json:"chronicLoad"`
	ACWR           float64 `json:"acwr"`
	Zone           string  `json:"zone"`
	Recommendation string  `json:"recommendation"`
}

// ReadinessInputs are the signals feeding the readiness score. Subjective
// fields default to neutral values when the caller has no check-in data.
type ReadinessInputs struct {
	SleepHours   float64
	SleepQuality float64 // 1-10
	Soreness     float64 // 1-10
	Stress       float64 // 1-10
	MentalEnergy float64 // 1-10

	RestingHR         *float64
	BaselineRestingHR *float64
	HRVChangeMs       *float64
	InjuryFlag        bool
}

// NeutralInputs returns inputs that contribute no adjustment, for days with
// no check-in or wellness data.
func NeutralInputs() ReadinessInputs {
	return ReadinessInputs{SleepHours: 7.5, SleepQuality: 7, Soreness: 3, Stress: 3, MentalEnergy: 5}
}

// DailyReport is the derived output for one user-day.
type DailyReport struct {
	UserID         string     `json:"userId"`
	Date           string     `json:"date"`
	Load           LoadReport `json:"load"`
	ReadinessScore float64    `json:"readinessScore"`
	ReadinessTier  string     `json:"readinessTier"`
	LoadHistory    []float64  `json:"loadHistory"`
}

// ComputeAcuteChronic returns mean daily load over the 7-day and 28-day
// windows of the history, most recent day last.
func ComputeAcuteChronic(history []float64) (acute, chronic float64) {
	if len(history) == 0 {
		return 0, 0
	}
	acuteWindow := history
	if len(history) > 7 {
		acuteWindow = history[len(history)-7:]
	}
	chronicWindow := history
	if len(history) > historyDays {
		chronicWindow = history[len(history)-historyDays:]
	}
	return mean(acuteWindow), mean(chronicWindow)
}

// ComputeACWR is acute over chronic. Zero chronic load with nonzero acute
// load is reported as +Inf.
func ComputeACWR(acute, chronic float64) float64 {
	if chronic <= 0 {
		if acute > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return acute / chronic
}

// ClassifyACWR buckets a ratio into a risk zone.
func ClassifyACWR(acwr float64) string {
	switch {
	case acwr < acwrUnder:
		return "underload"
	case acwr <= acwrOptimalHigh:
		return "optimal"
	case acwr <= acwrElevatedHigh:
		return "elevated"
	default:
		return "high"
	}
}

// BuildLoadReport computes the full acute:chronic summary for a load
// history.
func BuildLoadReport(history []float64) LoadReport {
	acute, chronic := ComputeAcuteChronic(history)
	acwr := ComputeACWR(acute, chronic)
	zone := ClassifyACWR(acwr)

	recommendation := "Maintain progressive overload."
	switch zone {
	case "underload":
		recommendation = "Increase load gradually (5-10%) to avoid detraining."
	case "elevated":
		recommendation = "Hold or slightly reduce load; avoid stacking hard days."
	case "high":
		recommendation = "Prioritize recovery; cap intensity until the ratio is back in range."
	}

	return LoadReport{
		AcuteLoad:      round2(acute),
		ChronicLoad:    round2(chronic),
		ACWR:           round2(acwr),
		Zone:           zone,
		Recommendation: recommendation,
	}
}

// ReadinessScore scores 0-100 from sleep, subjective state, heart-rate
// signals, and the current load zone, then buckets the score into a tier.
func ReadinessScore(in ReadinessInputs, loadZone string) (float64, string) {
	score := 100.0
	score -= math.Max(0, (7.5-in.SleepHours)*5)
	score += (in.SleepQuality - 7) * 3
	score -= (in.Soreness - 3) * 4
	score -= (in.Stress - 3) * 3
	score += (in.MentalEnergy - 5) * 2.5

	if in.RestingHR != nil && in.BaselineRestingHR != nil {
		if delta := *in.RestingHR - *in.BaselineRestingHR; delta > 0 {
			score -= delta * 1.2
		}
	}
	// A negative HRV change reduces the score.
	if in.HRVChangeMs != nil && *in.HRVChangeMs < 0 {
		score += *in.HRVChangeMs * 0.6
	}

	if loadZone == "elevated" || loadZone == "high" {
		score -= 8
	}
	if in.InjuryFlag {
		score -= 10
	}

	score = clamp(score, 0, 100)
	switch {
	case score >= readinessHighBound:
		return score, "high"
	case score >= readinessModerateBound:
		return score, "moderate"
	default:
		return score, "low"
	}
}

// SessionLoad is duration in minutes weighted by the heart-rate zone the
// session averaged. Sessions with no heart rate count as zone 2.
func SessionLoad(act types.Activity) float64 {
	if act.DurationSeconds == nil || *act.DurationSeconds <= 0 {
		return 0
	}
	minutes := *act.DurationSeconds / 60

	zone := 1
	if act.AverageHeartRate != nil && act.MaxHeartRate != nil && *act.MaxHeartRate > 0 {
		switch frac := *act.AverageHeartRate / *act.MaxHeartRate; {
		case frac < 0.6:
			zone = 0
		case frac < 0.7:
			zone = 1
		case frac < 0.8:
			zone = 2
		case frac < 0.9:
			zone = 3
		default:
			zone = 4
		}
	}
	return minutes * intensityFactors[zone]
}

// RunForSnapshot builds the daily report for a freshly synced snapshot,
// anchored at now. Missing wellness data degrades to neutral inputs.
func RunForSnapshot(snap *types.Snapshot, now time.Time) *DailyReport {
	history := loadHistory(snap.Activities, now)
	load := BuildLoadReport(history)

	inputs := NeutralInputs()
	if rec := latestSleep(snap.Sleep); rec != nil {
		if rec.TotalSleepSeconds != nil {
			inputs.SleepHours = *rec.TotalSleepSeconds / 3600
		}
		if rec.OverallScore != nil {
			inputs.SleepQuality = clamp(*rec.OverallScore/10, 1, 10)
		}
	}
	applyDailies(&inputs, snap.Dailies)

	score, tier := ReadinessScore(inputs, load.Zone)

	return &DailyReport{
		UserID:         snap.UserID,
		Date:           now.UTC().Format("2006-01-02"),
		Load:           load,
		ReadinessScore: round2(score),
		ReadinessTier:  tier,
		LoadHistory:    history,
	}
}

// loadHistory buckets session loads into the trailing 28 calendar days,
// oldest first.
func loadHistory(activities []types.Activity, now time.Time) []float64 {
	history := make([]float64, historyDays)
	today := now.UTC().Truncate(24 * time.Hour)
	for _, act := range activities {
		if act.StartTime == nil {
			continue
		}
		day := act.StartTime.UTC().Truncate(24 * time.Hour)
		offset := int(today.Sub(day).Hours() / 24)
		if offset < 0 || offset >= historyDays {
			continue
		}
		history[historyDays-1-offset] += SessionLoad(act)
	}
	return history
}

func latestSleep(records []types.SleepRecord) *types.SleepRecord {
	var latest *types.SleepRecord
	for i := range records {
		if latest == nil || records[i].Date > latest.Date {
			latest = &records[i]
		}
	}
	return latest
}

// applyDailies fills resting-HR and stress signals from the daily wellness
// summaries: the latest day against the mean of the preceding days.
func applyDailies(inputs *ReadinessInputs, dailies []types.DailySummary) {
	var latest *types.DailySummary
	for i := range dailies {
		if latest == nil || dailies[i].Date > latest.Date {
			latest = &dailies[i]
		}
	}
	if latest == nil {
		return
	}

	if latest.AverageStress != nil {
		// Vendor stress is 0-100; the score expects 1-10.
		inputs.Stress = clamp(*latest.AverageStress/10, 1, 10)
	}
	if latest.RestingHeartRate != nil {
		inputs.RestingHR = latest.RestingHeartRate
		var sum float64
		var n int
		for i := range dailies {
			if dailies[i].Date == latest.Date || dailies[i].RestingHeartRate == nil {
				continue
			}
			sum += *dailies[i].RestingHeartRate
			n++
		}
		if n > 0 {
			baseline := sum / float64(n)
			inputs.BaselineRestingHR = &baseline
		}
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp(value, lower, upper float64) float64 {
	return math.Max(lower, math.Min(upper, value))
}

func round2(v float64) float64 {
	if math.IsInf(v, 0) {
		return v
	}
	return math.Round(v*100) / 100
}
