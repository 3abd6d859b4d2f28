// Package classifier is the boundary to the epoch classification model. The
// pipeline only depends on the Classifier interface; adapters live here.
package classifier

import (
	"context"
	"errors"

	"github.com/sleepwatch/backend/internal/models"
	"github.com/sleepwatch/backend/internal/signal"
)

// ErrUnavailable means no classification could be produced for a window.
// Callers apply their fallback policy instead of failing.
var ErrUnavailable = errors.New("classifier: unavailable")

// Classifier maps one window to a stage label and an apnea flag.
type Classifier interface {
	Classify(ctx context.Context, w signal.Window) (models.Stage, bool, error)
}

// Func adapts a plain function to Classifier.
type Func func(ctx context.Context, w signal.Window) (models.Stage, bool, error)

func (f Func) Classify(ctx context.Context, w signal.Window) (models.Stage, bool, error) {
	return f(ctx, w)
}

// Reference echoes the label carried by the window: the simulator's stage for
// synthetic sessions, the scored annotation for recorded ones.
type Reference struct{}

func (Reference) Classify(_ context.Context, w signal.Window) (models.Stage, bool, error) {
	if w.Truth == nil {
		return models.StageWake, false, ErrUnavailable
	}
	return w.Truth.Stage, w.Truth.IsApnea, nil
}
