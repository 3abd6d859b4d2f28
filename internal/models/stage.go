package models

import (
	"encoding/json"
	"fmt"
)

// EpochSeconds is the fixed duration of one scored epoch.
const EpochSeconds = 30

// EpochMinutes is EpochSeconds expressed in minutes.
const EpochMinutes = 0.5

// Stage is a sleep stage label.
type Stage int

const (
	StageWake Stage = iota
	StageN1
	StageN2
	StageN3
	StageREM
)

// NumStages is the number of distinct stages.
const NumStages = 5

var stageNames = [NumStages]string{"Wake", "N1", "N2", "N3", "REM"}

// String returns the display name ("Wake", "N1", ...).
func (s Stage) String() string {
	if s < 0 || int(s) >= NumStages {
		return "Unknown"
	}
	return stageNames[s]
}

// Valid reports whether s is one of the five stages.
func (s Stage) Valid() bool { return s >= StageWake && s <= StageREM }

// Asleep reports whether s counts toward sleep time.
func (s Stage) Asleep() bool { return s.Valid() && s != StageWake }

// ParseStage resolves a stage by name.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return StageWake, fmt.Errorf("unknown stage %q", name)
}

// MarshalJSON encodes the stage by name.
func (s Stage) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the stage name or its integer code.
func (s *Stage) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		st, err := ParseStage(name)
		if err != nil {
			return err
		}
		*s = st
		return nil
	}
	var code int
	if err := json.Unmarshal(b, &code); err != nil {
		return fmt.Errorf("stage: %w", err)
	}
	if !Stage(code).Valid() {
		return fmt.Errorf("invalid stage %d", code)
	}
	*s = Stage(code)
	return nil
}

// StageCounts holds per-stage epoch counts. All keys are always serialised.
type StageCounts struct {
	Wake int `json:"Wake"`
	N1   int `json:"N1"`
	N2   int `json:"N2"`
	N3   int `json:"N3"`
	REM  int `json:"REM"`
}

// Add increments the counter for stage.
func (c *StageCounts) Add(stage Stage) {
	switch stage {
	case StageWake:
		c.Wake++
	case StageN1:
		c.N1++
	case StageN2:
		c.N2++
	case StageN3:
		c.N3++
	case StageREM:
		c.REM++
	}
}

// Get returns the count for stage.
func (c StageCounts) Get(stage Stage) int {
	switch stage {
	case StageWake:
		return c.Wake
	case StageN1:
		return c.N1
	case StageN2:
		return c.N2
	case StageN3:
		return c.N3
	case StageREM:
		return c.REM
	}
	return 0
}

// Total is the sum over all stages.
func (c StageCounts) Total() int { return c.Wake + c.N1 + c.N2 + c.N3 + c.REM }

// Asleep is the number of non-Wake epochs.
func (c StageCounts) Asleep() int { return c.N1 + c.N2 + c.N3 + c.REM }
