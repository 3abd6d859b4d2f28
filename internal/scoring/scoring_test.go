package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sleepwatch/backend/internal/models"
)

func TestRawAHI(t *testing.T) {
	// 473 min recorded, 25 min awake, 41 events.
	raw := RawAHI(41, 473-25)
	assert.InDelta(t, 5.491, raw, 0.001)
	assert.Equal(t, 5.5, RoundAHI(raw))
	assert.Equal(t, 0.0, RawAHI(12, 0))
}

func TestSleepScore(t *testing.T) {
	assert.Equal(t, 89, SleepScore(473, 25, 73, 75, RawAHI(41, 448)))
	assert.Equal(t, 0, SleepScore(0, 0, 0, 0, 0))
	// Awake the whole time: only the apnea component contributes.
	assert.Equal(t, 25, SleepScore(60, 60, 0, 0, 0))
	// Heavy apnea never drives the score below zero.
	assert.Equal(t, 0, SleepScore(10, 10, 0, 0, 500))
	assert.Equal(t, 100, SleepScore(5, 0, 1, 1, 0))
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, models.SeverityNormal, Severity(4.9))
	assert.Equal(t, models.SeverityMild, Severity(5))
	assert.Equal(t, models.SeverityModerate, Severity(15))
	assert.Equal(t, models.SeveritySevere, Severity(30))
}

func TestSummarize(t *testing.T) {
	start := time.Date(2026, 10, 15, 22, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)
	snap := models.Snapshot{
		Session:     models.Session{ID: "s1", Mode: models.ModeRecorded, SubjectRef: "200001", StartTime: start},
		StageCounts: models.StageCounts{Wake: 50, N1: 100, N2: 500, N3: 146, REM: 150},
		ApneaCount:  41,
		TotalEpochs: 946,
	}

	sum := Summarize(snap, end, models.EndReasonStopped)
	assert.Equal(t, "s1", sum.SessionID)
	assert.Equal(t, "200001", sum.SubjectRef)
	assert.Equal(t, 473.0, sum.DurationMinutes)
	assert.Equal(t, 25.0, sum.WakeMinutes)
	assert.Equal(t, 50.0, sum.N1Minutes)
	assert.Equal(t, 250.0, sum.N2Minutes)
	assert.Equal(t, 73.0, sum.N3Minutes)
	assert.Equal(t, 75.0, sum.REMMinutes)
	assert.Equal(t, 41, sum.TotalApneas)
	assert.Equal(t, 5.5, sum.AHI)
	assert.Equal(t, 89, sum.SleepScore)
	assert.Equal(t, models.SeverityMild, sum.Severity)
	assert.Equal(t, end, sum.EndTime)
}

func TestSummarizeEmptySession(t *testing.T) {
	sum := Summarize(models.Snapshot{Session: models.Session{ID: "empty"}}, time.Now(), models.EndReasonSourceExhausted)
	assert.Equal(t, 0.0, sum.DurationMinutes)
	assert.Equal(t, 0.0, sum.AHI)
	assert.Equal(t, 0, sum.SleepScore)
	assert.Equal(t, models.SeverityNormal, sum.Severity)
}

func TestLiveAHIIgnoresWake(t *testing.T) {
	counts := models.StageCounts{Wake: 10, N2: 120}
	// 60 sleep minutes, 3 events.
	assert.Equal(t, 3.0, LiveAHI(counts, 3))
	assert.Equal(t, 0.0, LiveAHI(models.StageCounts{Wake: 4}, 1))
}

func TestWeekly(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) // Friday
	summaries := []models.SessionSummary{
		{StartTime: now.AddDate(0, 0, -1).Add(-2 * time.Hour), SleepScore: 70, DurationMinutes: 400, AHI: 4},
		// Later session on the same day wins.
		{StartTime: now.AddDate(0, 0, -1).Add(1 * time.Hour), SleepScore: 80, DurationMinutes: 420, AHI: 6},
		{StartTime: now.AddDate(0, 0, -6), SleepScore: 63, DurationMinutes: 300, AHI: 10},
		// Outside the window.
		{StartTime: now.AddDate(0, 0, -7), SleepScore: 99, DurationMinutes: 999, AHI: 99},
	}

	w := Weekly(summaries, now)
	require.Len(t, w.DailyScores, 7)
	require.Len(t, w.DailyDates, 7)
	assert.Equal(t, []string{"Sat", "Sun", "Mon", "Tue", "Wed", "Thu", "Fri"}, w.DailyDates)
	assert.Equal(t, []int{63, 0, 0, 0, 0, 80, 0}, w.DailyScores)
	assert.Equal(t, 2, w.DaysWithData)
	assert.InDelta(t, float64(63+80)/7, w.AvgScore, 1e-9)
	assert.InDelta(t, 360.0, w.AvgDuration, 1e-9)
	assert.InDelta(t, 8.0, w.AvgAHI, 1e-9)
	assert.Equal(t, time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC), w.WeekStart)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), w.WeekEnd)
}

func TestWeeklyEmpty(t *testing.T) {
	w := Weekly(nil, time.Now())
	assert.Equal(t, 0, w.DaysWithData)
	assert.Equal(t, 0.0, w.AvgScore)
	assert.Equal(t, 0.0, w.AvgAHI)
}
