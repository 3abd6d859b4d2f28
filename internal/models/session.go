package models

import "time"

// Mode selects the signal source of a session.
type Mode string

const (
	ModeSynthetic Mode = "synthetic"
	ModeRecorded  Mode = "recorded"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeSynthetic || m == ModeRecorded }

// Status is the lifecycle status of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// EndReason records why a session was finalized.
type EndReason string

const (
	EndReasonStopped         EndReason = "stopped"
	EndReasonSourceExhausted EndReason = "source_exhausted"
	EndReasonSourceFailed    EndReason = "source_failed"
	EndReasonShutdown        EndReason = "shutdown"
)

// Session is the public metadata of one monitoring run.
type Session struct {
	ID         string     `json:"session_id"`
	Mode       Mode       `json:"mode"`
	SubjectRef string     `json:"subject_id,omitempty"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Status     Status     `json:"status"`
}

// Epoch is one classified 30-second window. Immutable once appended.
type Epoch struct {
	Index   int   `json:"epoch_number"`
	Stage   Stage `json:"sleep_stage"`
	IsApnea bool  `json:"is_apnea"`
	OffsetS int   `json:"offset_seconds"`
}

// NewEpoch builds the epoch at index with its derived time offset.
func NewEpoch(index int, stage Stage, isApnea bool) Epoch {
	return Epoch{Index: index, Stage: stage, IsApnea: isApnea, OffsetS: index * EpochSeconds}
}

// Snapshot is a consistent view of a session's state at one instant.
// Reconnecting push clients fetch it to resynchronise.
type Snapshot struct {
	Session
	TotalEpochs int         `json:"total_epochs"`
	StageCounts StageCounts `json:"stage_counts"`
	ApneaCount  int         `json:"apnea_count"`
	CurrentAHI  float64     `json:"current_ahi"`
	Epochs      []Epoch     `json:"epochs,omitempty"`
}
