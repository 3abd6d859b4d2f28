package scoring

import (
	"sort"
	"time"

	"github.com/sleepwatch/backend/internal/models"
)

// WeekDays is the length of the weekly window, today included.
const WeekDays = 7

const dayKey = "2006-01-02"

// Weekly aggregates summaries into the 7 calendar days ending on now's date, in
// now's location. A day's value comes from its latest-starting session; days
// without a session score 0. The average score spans all seven days while the
// duration and AHI averages only cover days with data.
func Weekly(summaries []models.SessionSummary, now time.Time) models.WeeklySummary {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	start := today.AddDate(0, 0, -(WeekDays - 1))

	sorted := make([]models.SessionSummary, len(summaries))
	copy(sorted, summaries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })

	dayIndex := make(map[string]int, WeekDays)
	for i := 0; i < WeekDays; i++ {
		dayIndex[start.AddDate(0, 0, i).Format(dayKey)] = i
	}
	var perDay [WeekDays]*models.SessionSummary
	for i := range sorted {
		idx, ok := dayIndex[sorted[i].StartTime.In(loc).Format(dayKey)]
		if !ok {
			continue
		}
		perDay[idx] = &sorted[i]
	}

	out := models.WeeklySummary{
		WeekStart:   start,
		WeekEnd:     today,
		DailyScores: make([]int, WeekDays),
		DailyDates:  make([]string, WeekDays),
	}
	var scoreSum int
	var durSum, ahiSum float64
	for i := 0; i < WeekDays; i++ {
		out.DailyDates[i] = start.AddDate(0, 0, i).Format("Mon")
		s := perDay[i]
		if s == nil {
			continue
		}
		out.DailyScores[i] = s.SleepScore
		scoreSum += s.SleepScore
		durSum += s.DurationMinutes
		ahiSum += s.AHI
		out.DaysWithData++
	}
	out.AvgScore = float64(scoreSum) / WeekDays
	if out.DaysWithData > 0 {
		out.AvgDuration = durSum / float64(out.DaysWithData)
		out.AvgAHI = ahiSum / float64(out.DaysWithData)
	}
	return out
}
