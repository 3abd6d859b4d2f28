package models

import "time"

// ApneaSeverity is the clinical severity band for an AHI value.
type ApneaSeverity string

const (
	SeverityNormal   ApneaSeverity = "Normal"
	SeverityMild     ApneaSeverity = "Mild"
	SeverityModerate ApneaSeverity = "Moderate"
	SeveritySevere   ApneaSeverity = "Severe"
)

// SessionSummary is produced once when a session is finalized.
type SessionSummary struct {
	SessionID       string        `json:"session_id"`
	Mode            Mode          `json:"mode"`
	SubjectRef      string        `json:"subject_id,omitempty"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	EndReason       EndReason     `json:"end_reason"`
	DurationMinutes float64       `json:"duration_minutes"`
	SleepScore      int           `json:"sleep_score"`
	WakeMinutes     float64       `json:"wake_minutes"`
	N1Minutes       float64       `json:"n1_minutes"`
	N2Minutes       float64       `json:"n2_minutes"`
	N3Minutes       float64       `json:"n3_minutes"`
	REMMinutes      float64       `json:"rem_minutes"`
	TotalApneas     int           `json:"total_apnea_events"`
	AHI             float64       `json:"ahi"`
	Severity        ApneaSeverity `json:"apnea_severity"`
}

// WeeklySummary aggregates the last seven calendar days of summaries.
type WeeklySummary struct {
	WeekStart    time.Time `json:"week_start"`
	WeekEnd      time.Time `json:"week_end"`
	DailyScores  []int     `json:"daily_scores"`
	DailyDates   []string  `json:"daily_dates"`
	AvgScore     float64   `json:"avg_score"`
	AvgDuration  float64   `json:"avg_duration"`
	AvgAHI       float64   `json:"avg_ahi"`
	DaysWithData int       `json:"days_with_data"`
}
