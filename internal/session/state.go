// Package session owns live monitoring sessions: their append-only state, the
// per-session epoch processor and the lifecycle that starts, stops and
// finalizes them.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/sleepwatch/backend/internal/models"
	"github.com/sleepwatch/backend/internal/scoring"
)

// State is the authoritative record of one session. Append is the only way
// epochs enter it; readers always see epochs, counts and apnea count from the
// same instant.
type State struct {
	mu      sync.RWMutex
	session models.Session
	epochs  []models.Epoch
	counts  models.StageCounts
	apneas  int
}

// NewState creates the active state for s.
func NewState(s models.Session) *State {
	s.Status = models.StatusActive
	s.EndTime = nil
	return &State{session: s}
}

// ID returns the session id.
func (s *State) ID() string { return s.session.ID }

// Append records the next epoch. It fails with ErrInvalidState once the session has ended.
func (s *State) Append(stage models.Stage, isApnea bool) (models.Epoch, error) {
	if !stage.Valid() {
		return models.Epoch{}, fmt.Errorf("%w: stage %d", ErrInvalidInput, int(stage))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Status == models.StatusEnded {
		return models.Epoch{}, fmt.Errorf("%w: append to ended session %s", ErrInvalidState, s.session.ID)
	}
	ep := models.NewEpoch(len(s.epochs), stage, isApnea)
	s.epochs = append(s.epochs, ep)
	s.counts.Add(stage)
	if isApnea {
		s.apneas++
	}
	return ep, nil
}

// End marks the session ended at at. Only the first call has any effect.
func (s *State) End(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Status == models.StatusEnded {
		return false
	}
	s.session.Status = models.StatusEnded
	s.session.EndTime = &at
	return true
}

// Session returns the session metadata.
func (s *State) Session() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Len returns the number of epochs appended so far.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.epochs)
}

// Epochs returns a copy of the ordered epochs.
func (s *State) Epochs() []models.Epoch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Epoch, len(s.epochs))
	copy(out, s.epochs)
	return out
}

// Snapshot returns a consistent copy of the state. The epoch list is only
// included when withEpochs is set.
func (s *State) Snapshot(withEpochs bool) models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := models.Snapshot{
		Session:     s.session,
		TotalEpochs: len(s.epochs),
		StageCounts: s.counts,
		ApneaCount:  s.apneas,
		CurrentAHI:  scoring.LiveAHI(s.counts, s.apneas),
	}
	if withEpochs {
		snap.Epochs = make([]models.Epoch, len(s.epochs))
		copy(snap.Epochs, s.epochs)
	}
	return snap
}
