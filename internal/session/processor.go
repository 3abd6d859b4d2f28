package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sleepwatch/backend/internal/classifier"
	"github.com/sleepwatch/backend/internal/models"
	"github.com/sleepwatch/backend/internal/signal"
)

// Phase is the processor's position in Idle → Running → Stopping → Stopped.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseStopping
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	}
	return "unknown"
}

// Publisher fans session messages out to subscribers.
type Publisher interface {
	Publish(sessionID string, msg any)
	CloseSession(sessionID string, reason models.EndReason)
}

// TickerFunc returns a tick channel firing every d and a function releasing it.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func systemTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// ProcessorHooks are callbacks run on the processor goroutine.
type ProcessorHooks struct {
	// OnEpoch runs after each appended epoch has been published.
	OnEpoch func(snap models.Snapshot)
	// OnFinish runs once when the loop has exited, before subscribers are told
	// the session ended and before the state is marked Ended.
	OnFinish func(reason models.EndReason, at time.Time)
}

// ProcessorConfig holds the per-session pacing.
type ProcessorConfig struct {
	Interval        time.Duration
	ClassifyTimeout time.Duration
	Ticker          TickerFunc
	Now             func() time.Time
}

// Processor drives one session: every tick it pulls a window, classifies it,
// appends the epoch and publishes the update. Ticks never overlap.
type Processor struct {
	state      *State
	source     signal.Source
	classifier classifier.Classifier
	publisher  Publisher
	hooks      ProcessorHooks
	cfg        ProcessorConfig
	logger     *zap.Logger

	mu     sync.Mutex
	phase  Phase
	reason models.EndReason
	stopCh chan struct{}
	done   chan struct{}
	// ctx is cancelled by Stop so a blocked source read or classify returns.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewProcessor binds a source and classifier to state.
func NewProcessor(state *State, source signal.Source, clf classifier.Classifier, pub Publisher, cfg ProcessorConfig, hooks ProcessorHooks, logger *zap.Logger) *Processor {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = cfg.Interval
	}
	if cfg.Ticker == nil {
		cfg.Ticker = systemTicker
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		ctx:        ctx,
		cancel:     cancel,
		state:      state,
		source:     source,
		classifier: clf,
		publisher:  pub,
		hooks:      hooks,
		cfg:        cfg,
		logger:     logger.With(zap.String("session_id", state.ID())),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Phase returns the current phase.
func (p *Processor) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Reason returns why the processor stopped; empty while running.
func (p *Processor) Reason() models.EndReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// Done is closed once the processor reached Stopped.
func (p *Processor) Done() <-chan struct{} { return p.done }

// Start moves Idle → Running and begins ticking. Later calls are no-ops.
func (p *Processor) Start() {
	p.mu.Lock()
	if p.phase != PhaseIdle {
		p.mu.Unlock()
		return
	}
	p.phase = PhaseRunning
	p.mu.Unlock()

	go p.run()
	p.logger.Info("epoch processor started", zap.Duration("interval", p.cfg.Interval))
}

// Stop requests Running → Stopping with reason and waits until Stopped. An
// in-flight tick is interrupted and its epoch is not appended. It returns
// false when the processor was already stopping or stopped, in which case it
// does not wait.
func (p *Processor) Stop(reason models.EndReason) bool {
	p.mu.Lock()
	switch p.phase {
	case PhaseIdle:
		p.phase = PhaseStopping
		p.reason = reason
		p.mu.Unlock()
		p.finish()
		return true
	case PhaseRunning:
		p.phase = PhaseStopping
		p.reason = reason
		close(p.stopCh)
		p.cancel()
		p.mu.Unlock()
		<-p.done
		return true
	default:
		p.mu.Unlock()
		return false
	}
}

// terminate is the loop's own transition to Stopping. A concurrent Stop wins.
func (p *Processor) terminate(reason models.EndReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase == PhaseRunning {
		p.phase = PhaseStopping
		p.reason = reason
	}
}

func (p *Processor) run() {
	defer p.finish()
	ticks, release := p.cfg.Ticker(p.cfg.Interval)
	defer release()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticks:
		}
		select {
		case <-p.stopCh:
			return
		default:
		}
		if reason, stop := p.tick(); stop {
			p.terminate(reason)
			return
		}
	}
}

func (p *Processor) tick() (models.EndReason, bool) {
	ctx := p.ctx
	w, err := p.source.Next(ctx)
	switch {
	case ctx.Err() != nil:
		return models.EndReasonStopped, true
	case errors.Is(err, signal.ErrEndOfStream):
		p.logger.Info("signal source exhausted", zap.Int("epochs", p.state.Len()))
		return models.EndReasonSourceExhausted, true
	case err != nil:
		p.logger.Error("signal source failed", zap.Error(err), zap.Int("epochs", p.state.Len()))
		return models.EndReasonSourceFailed, true
	}

	stage, apnea := p.classify(ctx, w)
	if ctx.Err() != nil {
		return models.EndReasonStopped, true
	}
	ep, err := p.state.Append(stage, apnea)
	if err != nil {
		p.logger.Error("append epoch", zap.Error(err))
		return models.EndReasonStopped, true
	}

	snap := p.state.Snapshot(false)
	p.publisher.Publish(p.state.ID(), models.EpochUpdate{
		Type:         models.MessageEpochUpdate,
		SessionID:    p.state.ID(),
		EpochIndex:   ep.Index,
		Timestamp:    p.cfg.Now().UTC(),
		OffsetS:      ep.OffsetS,
		CurrentStage: ep.Stage,
		IsApnea:      ep.IsApnea,
		TotalEpochs:  snap.TotalEpochs,
		StageCounts:  snap.StageCounts,
		ApneaCount:   snap.ApneaCount,
		CurrentAHI:   snap.CurrentAHI,
	})
	p.logger.Debug("epoch processed",
		zap.Int("epoch", ep.Index),
		zap.Stringer("stage", ep.Stage),
		zap.Bool("apnea", ep.IsApnea),
	)
	if p.hooks.OnEpoch != nil {
		p.hooks.OnEpoch(snap)
	}
	return "", false
}

// classify applies the fallback policy: any classifier failure yields Wake
// without apnea and the session continues.
func (p *Processor) classify(ctx context.Context, w signal.Window) (models.Stage, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ClassifyTimeout)
	defer cancel()
	stage, apnea, err := p.classifier.Classify(ctx, w)
	if err == nil && !stage.Valid() {
		err = classifier.ErrUnavailable
	}
	if err != nil {
		p.logger.Warn("classifier unavailable, using fallback", zap.Error(err), zap.Int("epoch", w.Index))
		return models.StageWake, false
	}
	return stage, apnea
}

func (p *Processor) finish() {
	at := p.cfg.Now()
	reason := p.Reason()
	if p.hooks.OnFinish != nil {
		p.hooks.OnFinish(reason, at)
	}
	p.publisher.CloseSession(p.state.ID(), reason)
	p.state.End(at)
	if err := p.source.Close(); err != nil {
		p.logger.Warn("close signal source", zap.Error(err))
	}

	p.mu.Lock()
	p.phase = PhaseStopped
	p.mu.Unlock()
	p.cancel()
	close(p.done)
	p.logger.Info("epoch processor stopped", zap.String("reason", string(reason)), zap.Int("epochs", p.state.Len()))
}
