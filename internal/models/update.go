package models

import "time"

// Push message types.
const (
	MessageConnected    = "connected"
	MessageEpochUpdate  = "epoch_update"
	MessagePing         = "ping"
	MessagePong         = "pong"
	MessageSessionEnded = "session_ended"
)

// ConnectedMessage acknowledges a new push channel before any data update.
type ConnectedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// EpochUpdate is pushed once per processed epoch.
type EpochUpdate struct {
	Type         string      `json:"type"`
	SessionID    string      `json:"session_id"`
	EpochIndex   int         `json:"epoch_index"`
	Timestamp    time.Time   `json:"timestamp"`
	OffsetS      int         `json:"offset_seconds"`
	CurrentStage Stage       `json:"current_stage"`
	IsApnea      bool        `json:"is_apnea"`
	TotalEpochs  int         `json:"total_epochs"`
	StageCounts  StageCounts `json:"stage_counts"`
	ApneaCount   int         `json:"apnea_count"`
	CurrentAHI   float64     `json:"current_ahi"`
}

// SessionEndedMessage tells subscribers the session is finalized and the channel will close.
type SessionEndedMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Reason    EndReason `json:"reason"`
}

// ControlMessage is the client→server envelope (heartbeat).
type ControlMessage struct {
	Type string `json:"type"`
}
