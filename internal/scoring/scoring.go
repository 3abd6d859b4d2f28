// Package scoring derives clinical metrics (AHI, sleep score, weekly aggregates)
// from stage counts and apnea counts.
package scoring

import (
	"math"
	"time"

	"github.com/sleepwatch/backend/internal/models"
)

const (
	deepSleepTarget = 0.15
	remSleepTarget  = 0.20
	ahiPenaltyLimit = 30.0
)

// Minutes converts an epoch count to minutes.
func Minutes(epochs int) float64 { return float64(epochs) * models.EpochMinutes }

// RawAHI returns apnea events per hour of sleep, unrounded. Zero sleep yields 0.
func RawAHI(apneas int, sleepMinutes float64) float64 {
	if sleepMinutes <= 0 {
		return 0
	}
	return float64(apneas) / (sleepMinutes / 60)
}

// RoundAHI rounds to one decimal place, half away from zero.
func RoundAHI(ahi float64) float64 { return math.Round(ahi*10) / 10 }

// LiveAHI is the AHI reported on push updates for the epochs seen so far.
func LiveAHI(counts models.StageCounts, apneas int) float64 {
	return RoundAHI(RawAHI(apneas, Minutes(counts.Asleep())))
}

// SleepScore combines efficiency, deep-sleep and REM adequacy and an apnea penalty
// into a 0..100 score. rawAHI must be unrounded.
func SleepScore(durationMin, wakeMin, n3Min, remMin, rawAHI float64) int {
	if durationMin <= 0 {
		return 0
	}
	efficiency := (durationMin - wakeMin) / durationMin
	deep := math.Min(1, (n3Min/durationMin)/deepSleepTarget)
	rem := math.Min(1, (remMin/durationMin)/remSleepTarget)
	apnea := math.Max(0, 1-rawAHI/ahiPenaltyLimit)

	score := int(math.Round(100 * (efficiency + deep + rem + apnea) / 4))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Severity maps an AHI to its band.
func Severity(ahi float64) models.ApneaSeverity {
	switch {
	case ahi < 5:
		return models.SeverityNormal
	case ahi < 15:
		return models.SeverityMild
	case ahi < 30:
		return models.SeverityModerate
	default:
		return models.SeveritySevere
	}
}

// Summarize builds the final summary of a session from its counts. Session
// metadata is copied from snap; endTime and reason are set by the caller.
func Summarize(snap models.Snapshot, endTime time.Time, reason models.EndReason) models.SessionSummary {
	c := snap.StageCounts
	duration := Minutes(c.Total())
	wake := Minutes(c.Wake)
	raw := RawAHI(snap.ApneaCount, duration-wake)
	n3 := Minutes(c.N3)
	rem := Minutes(c.REM)
	ahi := RoundAHI(raw)

	return models.SessionSummary{
		SessionID:       snap.ID,
		Mode:            snap.Mode,
		SubjectRef:      snap.SubjectRef,
		StartTime:       snap.StartTime,
		EndTime:         endTime,
		EndReason:       reason,
		DurationMinutes: duration,
		SleepScore:      SleepScore(duration, wake, n3, rem, raw),
		WakeMinutes:     wake,
		N1Minutes:       Minutes(c.N1),
		N2Minutes:       Minutes(c.N2),
		N3Minutes:       n3,
		REMMinutes:      rem,
		TotalApneas:     snap.ApneaCount,
		AHI:             ahi,
		Severity:        Severity(ahi),
	}
}
