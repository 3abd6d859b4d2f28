package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sleepwatch/backend/internal/classifier"
	"github.com/sleepwatch/backend/internal/models"
	"github.com/sleepwatch/backend/internal/outbox"
	"github.com/sleepwatch/backend/internal/scoring"
	"github.com/sleepwatch/backend/internal/signal"
)

// Store is the durable record of finalized sessions. LoadSummary returns
// nil, nil when the session is unknown.
type Store interface {
	PersistSummary(ctx context.Context, summary models.SessionSummary, epochs []models.Epoch) error
	LoadSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error)
	LoadEpochs(ctx context.Context, sessionID string) ([]models.Epoch, error)
	LoadRecentSummaries(ctx context.Context, since time.Time) ([]models.SessionSummary, error)
}

// Directory advertises live sessions to other instances. Get returns nil, nil
// for sessions nobody hosts.
type Directory interface {
	Put(ctx context.Context, snap models.Snapshot) error
	Get(ctx context.Context, sessionID string) (*models.Snapshot, error)
	Remove(ctx context.Context, sessionID string) error
}

// Exporter queues the archival of a finalized session.
type Exporter interface {
	EnqueueExport(ctx context.Context, summary models.SessionSummary, epochs []models.Epoch) error
}

// Archive resolves download links for archived sessions.
type Archive interface {
	ExportURL(ctx context.Context, sessionID string) (string, error)
}

// Config controls pacing and synthetic generation for new sessions.
type Config struct {
	SyntheticInterval  time.Duration
	RecordedInterval   time.Duration
	MaxSyntheticEpochs int
	ApneaScale         float64
	// Seed makes synthetic sessions reproducible; 0 seeds from the clock.
	Seed            uint64
	SampleRate      int
	ClassifyTimeout time.Duration
	StoreTimeout    time.Duration
}

// Option customises a Lifecycle.
type Option func(*Lifecycle)

// WithDirectory publishes live snapshots to d.
func WithDirectory(d Directory) Option { return func(l *Lifecycle) { l.directory = d } }

// WithExporter queues an archive export for every finalized session.
func WithExporter(e Exporter) Option { return func(l *Lifecycle) { l.exporter = e } }

// WithArchive enables export download links.
func WithArchive(a Archive) Option { return func(l *Lifecycle) { l.archive = a } }

// WithTicker replaces the wall-clock ticker of every processor.
func WithTicker(t TickerFunc) Option { return func(l *Lifecycle) { l.ticker = t } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(l *Lifecycle) { l.now = now } }

// Lifecycle creates, stops and finalizes sessions and answers queries about them.
type Lifecycle struct {
	cfg        Config
	store      Store
	hub        Publisher
	catalog    *signal.Catalog
	classifier classifier.Classifier
	directory  Directory
	exporter   Exporter
	archive    Archive
	ticker     TickerFunc
	now        func() time.Time
	logger     *zap.Logger

	registry *Registry
	started  atomic.Uint64
}

// NewLifecycle wires a lifecycle. catalog may be empty but not nil.
func NewLifecycle(cfg Config, store Store, hub Publisher, catalog *signal.Catalog, clf classifier.Classifier, logger *zap.Logger, opts ...Option) *Lifecycle {
	if cfg.SyntheticInterval <= 0 {
		cfg.SyntheticInterval = 2 * time.Second
	}
	if cfg.RecordedInterval <= 0 {
		cfg.RecordedInterval = cfg.SyntheticInterval
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if catalog == nil {
		catalog = signal.EmptyCatalog()
	}
	if clf == nil {
		clf = classifier.Reference{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Lifecycle{
		cfg:        cfg,
		store:      store,
		hub:        hub,
		catalog:    catalog,
		classifier: clf,
		now:        time.Now,
		logger:     logger,
		registry:   NewRegistry(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Start validates the request, opens the signal source and starts ticking.
// Nothing is created when the subject cannot be resolved.
func (l *Lifecycle) Start(ctx context.Context, mode models.Mode, subjectRef string) (models.Session, error) {
	if !mode.Valid() {
		return models.Session{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, mode)
	}
	if mode == models.ModeSynthetic && subjectRef != "" {
		return models.Session{}, fmt.Errorf("%w: subject_id requires recorded mode", ErrInvalidInput)
	}

	src, subjectRef, interval, err := l.openSource(mode, subjectRef)
	if err != nil {
		return models.Session{}, err
	}

	st := NewState(models.Session{
		ID:         uuid.NewString(),
		Mode:       mode,
		SubjectRef: subjectRef,
		StartTime:  l.now().UTC(),
	})
	ls := &live{state: st}
	if l.directory != nil {
		// One pending snapshot is enough: a newer one supersedes it.
		ls.directory = outbox.New(1)
	}
	ls.proc = NewProcessor(st, src, l.classifier, l.hub,
		ProcessorConfig{
			Interval:        interval,
			ClassifyTimeout: l.cfg.ClassifyTimeout,
			Ticker:          l.ticker,
			Now:             l.now,
		},
		ProcessorHooks{
			OnEpoch:  func(snap models.Snapshot) { l.publishLive(ls, snap) },
			OnFinish: func(reason models.EndReason, at time.Time) { l.finalize(ls, reason, at) },
		},
		l.logger,
	)
	l.registry.add(st.ID(), ls)
	l.publishLive(ls, st.Snapshot(false))
	ls.proc.Start()
	go l.reap(ls)

	sess := st.Session()
	l.logger.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("mode", string(mode)),
		zap.String("subject_id", subjectRef),
	)
	return sess, nil
}

func (l *Lifecycle) openSource(mode models.Mode, subjectRef string) (signal.Source, string, time.Duration, error) {
	if mode == models.ModeSynthetic {
		n := l.started.Add(1)
		seed := l.cfg.Seed
		if seed != 0 {
			seed += n
		}
		src := signal.NewSynthetic(signal.SyntheticConfig{
			SampleRate: l.cfg.SampleRate,
			ApneaScale: l.cfg.ApneaScale,
			MaxEpochs:  l.cfg.MaxSyntheticEpochs,
			Seed:       seed,
		})
		return src, "", l.cfg.SyntheticInterval, nil
	}

	if subjectRef == "" {
		picked, err := l.catalog.Pick(nil)
		if err != nil {
			return nil, "", 0, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		subjectRef = picked
	}
	src, err := l.catalog.Open(subjectRef)
	if errors.Is(err, signal.ErrSubjectNotFound) {
		return nil, "", 0, fmt.Errorf("%w: subject %s", ErrNotFound, subjectRef)
	}
	if err != nil {
		return nil, "", 0, fmt.Errorf("open subject %s: %w", subjectRef, err)
	}
	return src, subjectRef, l.cfg.RecordedInterval, nil
}

// publishLive queues snap for the live directory without waiting on it.
func (l *Lifecycle) publishLive(ls *live, snap models.Snapshot) {
	if ls.directory == nil {
		return
	}
	ls.directory.Push(func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.StoreTimeout)
		defer cancel()
		if err := l.directory.Put(ctx, snap); err != nil {
			l.logger.Warn("publish live snapshot", zap.Error(err), zap.String("session_id", snap.ID))
		}
	})
}

// unpublishLive removes the directory entry after any queued snapshot and
// waits for it, bounded by ctx.
func (l *Lifecycle) unpublishLive(ctx context.Context, ls *live, log *zap.Logger) {
	if ls.directory == nil {
		return
	}
	id := ls.state.ID()
	ls.directory.Push(func() {
		rctx, cancel := context.WithTimeout(context.Background(), l.cfg.StoreTimeout)
		defer cancel()
		if err := l.directory.Remove(rctx, id); err != nil {
			log.Warn("remove live snapshot", zap.Error(err))
		}
	})
	ls.directory.Close()
	select {
	case <-ls.directory.Done():
	case <-ctx.Done():
		log.Warn("live directory removal still pending", zap.Error(ctx.Err()))
	}
}

// finalize runs on the processor goroutine once ticking has ended.
func (l *Lifecycle) finalize(ls *live, reason models.EndReason, at time.Time) {
	snap := ls.state.Snapshot(true)
	summary := scoring.Summarize(snap, at.UTC(), reason)
	log := l.logger.With(zap.String("session_id", summary.SessionID))

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.StoreTimeout)
	defer cancel()
	persisted := true
	if err := l.store.PersistSummary(ctx, summary, snap.Epochs); err != nil {
		log.Error("persist session summary", zap.Error(err))
		persisted = false
	}

	ls.mu.Lock()
	ls.summary = &summary
	ls.persisted = persisted
	ls.mu.Unlock()

	l.unpublishLive(ctx, ls, log)
	if l.exporter != nil {
		if err := l.exporter.EnqueueExport(ctx, summary, snap.Epochs); err != nil {
			log.Warn("enqueue session export", zap.Error(err))
		}
	}
	log.Info("session finalized",
		zap.String("reason", string(reason)),
		zap.Int("epochs", snap.TotalEpochs),
		zap.Float64("ahi", summary.AHI),
		zap.Int("sleep_score", summary.SleepScore),
	)
}

// reap drops the session from the registry once it is stopped and durable.
func (l *Lifecycle) reap(ls *live) {
	<-ls.proc.Done()
	if _, persisted := ls.finalSummary(); persisted {
		l.registry.remove(ls.state.ID())
	}
}

// Stop ends a running session and returns its summary. A session that has
// already ended yields ErrAlreadyEnded and its summary is left untouched.
func (l *Lifecycle) Stop(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	ls := l.registry.get(sessionID)
	if ls == nil {
		s, err := l.store.LoadSummary(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s != nil {
			return nil, ErrAlreadyEnded
		}
		return nil, ErrNotFound
	}
	if !ls.proc.Stop(models.EndReasonStopped) {
		return nil, ErrAlreadyEnded
	}
	s, _ := ls.finalSummary()
	return s, nil
}

// Summary returns the finalized summary. Sessions that are still running have none.
func (l *Lifecycle) Summary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	if ls := l.registry.get(sessionID); ls != nil {
		if s, _ := ls.finalSummary(); s != nil {
			return s, nil
		}
		return nil, fmt.Errorf("%w: session %s has not been finalized", ErrNotFound, sessionID)
	}
	s, err := l.store.LoadSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotFound
	}
	return s, nil
}

// Epochs returns the ordered epochs of a live or finalized session.
func (l *Lifecycle) Epochs(ctx context.Context, sessionID string) ([]models.Epoch, error) {
	if ls := l.registry.get(sessionID); ls != nil {
		return ls.state.Epochs(), nil
	}
	s, err := l.store.LoadSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotFound
	}
	epochs, err := l.store.LoadEpochs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if epochs == nil {
		epochs = []models.Epoch{}
	}
	return epochs, nil
}

// Snapshot returns the full current state used by clients to resynchronise.
// Sessions hosted by another instance are answered from the live directory
// without their epoch list.
func (l *Lifecycle) Snapshot(ctx context.Context, sessionID string) (*models.Snapshot, error) {
	if ls := l.registry.get(sessionID); ls != nil {
		snap := ls.state.Snapshot(true)
		return &snap, nil
	}
	if l.directory != nil {
		snap, err := l.directory.Get(ctx, sessionID)
		if err != nil {
			l.logger.Warn("read live snapshot", zap.Error(err), zap.String("session_id", sessionID))
		} else if snap != nil {
			return snap, nil
		}
	}
	s, err := l.store.LoadSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotFound
	}
	epochs, err := l.store.LoadEpochs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return snapshotFromArchive(*s, epochs), nil
}

func snapshotFromArchive(s models.SessionSummary, epochs []models.Epoch) *models.Snapshot {
	end := s.EndTime
	snap := &models.Snapshot{
		Session: models.Session{
			ID:         s.SessionID,
			Mode:       s.Mode,
			SubjectRef: s.SubjectRef,
			StartTime:  s.StartTime,
			EndTime:    &end,
			Status:     models.StatusEnded,
		},
		TotalEpochs: len(epochs),
		Epochs:      epochs,
	}
	for _, e := range epochs {
		snap.StageCounts.Add(e.Stage)
		if e.IsApnea {
			snap.ApneaCount++
		}
	}
	snap.CurrentAHI = scoring.LiveAHI(snap.StageCounts, snap.ApneaCount)
	return snap
}

// Active reports whether a session is currently running here or on another instance.
func (l *Lifecycle) Active(ctx context.Context, sessionID string) bool {
	if ls := l.registry.get(sessionID); ls != nil {
		return ls.proc.Phase() == PhaseRunning
	}
	if l.directory == nil {
		return false
	}
	snap, err := l.directory.Get(ctx, sessionID)
	return err == nil && snap != nil
}

// WeeklySummary aggregates the last seven calendar days of finalized sessions.
func (l *Lifecycle) WeeklySummary(ctx context.Context) (models.WeeklySummary, error) {
	now := l.now()
	since := now.AddDate(0, 0, -scoring.WeekDays)
	list, err := l.store.LoadRecentSummaries(ctx, since)
	if err != nil {
		return models.WeeklySummary{}, err
	}
	return scoring.Weekly(list, now), nil
}

// Subjects lists the recorded subjects available for playback.
func (l *Lifecycle) Subjects() []string { return l.catalog.Subjects() }

// ExportURL returns a download link for a finalized session's archive.
func (l *Lifecycle) ExportURL(ctx context.Context, sessionID string) (string, error) {
	if l.archive == nil {
		return "", ErrUnavailable
	}
	if _, err := l.Summary(ctx, sessionID); err != nil {
		return "", err
	}
	return l.archive.ExportURL(ctx, sessionID)
}

// Shutdown stops every hosted session with reason shutdown and waits for
// their finalization or ctx.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	sessions := l.registry.all()
	var wg sync.WaitGroup
	for _, ls := range sessions {
		wg.Add(1)
		go func(ls *live) {
			defer wg.Done()
			ls.proc.Stop(models.EndReasonShutdown)
		}(ls)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		l.logger.Info("all sessions finalized", zap.Int("sessions", len(sessions)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
