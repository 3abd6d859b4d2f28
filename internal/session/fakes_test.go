package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sleepwatch/backend/internal/models"
	"github.com/sleepwatch/backend/internal/signal"
)

type recordingPublisher struct {
	mu      sync.Mutex
	updates map[string][]models.EpochUpdate
	closed  map[string]models.EndReason
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{updates: map[string][]models.EpochUpdate{}, closed: map[string]models.EndReason{}}
}

func (p *recordingPublisher) Publish(id string, msg any) {
	u, ok := msg.(models.EpochUpdate)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates[id] = append(p.updates[id], u)
}

func (p *recordingPublisher) CloseSession(id string, reason models.EndReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed[id] = reason
}

func (p *recordingPublisher) Updates(id string) []models.EpochUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.EpochUpdate(nil), p.updates[id]...)
}

func (p *recordingPublisher) Closed(id string) (models.EndReason, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.closed[id]
	return r, ok
}

// manualTicker lets a test decide exactly when each tick fires.
type manualTicker struct{ ch chan time.Time }

func newManualTicker() *manualTicker { return &manualTicker{ch: make(chan time.Time)} }

func (m *manualTicker) Func() TickerFunc {
	return func(time.Duration) (<-chan time.Time, func()) { return m.ch, func() {} }
}

func (m *manualTicker) send(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case m.ch <- time.Now():
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d not consumed", i)
		}
	}
}

// drive ticks until done is closed.
func (m *manualTicker) drive(t *testing.T, done <-chan struct{}) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case m.ch <- time.Now():
		case <-done:
			return
		case <-deadline:
			t.Fatal("processor did not stop")
		}
	}
}

// scriptedSource yields n windows, then fails with err or ends the stream.
type scriptedSource struct {
	n      int
	err    error
	served int
	closed bool
}

func (s *scriptedSource) Next(context.Context) (signal.Window, error) {
	if s.served < s.n {
		w := signal.Window{Index: s.served, Truth: &signal.Label{Stage: models.StageN2, IsApnea: s.served == 0}}
		s.served++
		return w, nil
	}
	if s.err != nil {
		return signal.Window{}, s.err
	}
	return signal.Window{}, signal.ErrEndOfStream
}

func (s *scriptedSource) Close() error {
	s.closed = true
	return nil
}

type mockStore struct{ mock.Mock }

func (m *mockStore) PersistSummary(ctx context.Context, s models.SessionSummary, epochs []models.Epoch) error {
	return m.Called(ctx, s, epochs).Error(0)
}

func (m *mockStore) LoadSummary(ctx context.Context, id string) (*models.SessionSummary, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*models.SessionSummary)
	return s, args.Error(1)
}

func (m *mockStore) LoadEpochs(ctx context.Context, id string) ([]models.Epoch, error) {
	args := m.Called(ctx, id)
	e, _ := args.Get(0).([]models.Epoch)
	return e, args.Error(1)
}

func (m *mockStore) LoadRecentSummaries(ctx context.Context, since time.Time) ([]models.SessionSummary, error) {
	args := m.Called(ctx, since)
	s, _ := args.Get(0).([]models.SessionSummary)
	return s, args.Error(1)
}

type fakeDirectory struct {
	mu      sync.Mutex
	live    map[string]models.Snapshot
	puts    int
	removed []string
}

func newFakeDirectory() *fakeDirectory { return &fakeDirectory{live: map[string]models.Snapshot{}} }

func (d *fakeDirectory) Put(_ context.Context, snap models.Snapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live[snap.ID] = snap
	d.puts++
	return nil
}

func (d *fakeDirectory) Get(_ context.Context, id string) (*models.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap, ok := d.live[id]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (d *fakeDirectory) Remove(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.live, id)
	d.removed = append(d.removed, id)
	return nil
}

type fakeExporter struct {
	mu   sync.Mutex
	jobs []models.SessionSummary
}

func (e *fakeExporter) EnqueueExport(_ context.Context, s models.SessionSummary, _ []models.Epoch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, s)
	return nil
}

type fakeArchive struct{}

func (fakeArchive) ExportURL(_ context.Context, id string) (string, error) {
	return "https://exports.example/" + id + "/session.json", nil
}

// blockingSource never yields a window; Next returns only when ctx ends.
type blockingSource struct {
	entered chan struct{}
	once    sync.Once
}

func newBlockingSource() *blockingSource { return &blockingSource{entered: make(chan struct{})} }

func (s *blockingSource) Next(ctx context.Context) (signal.Window, error) {
	s.once.Do(func() { close(s.entered) })
	<-ctx.Done()
	return signal.Window{}, ctx.Err()
}

func (s *blockingSource) Close() error { return nil }

// stallingDirectory holds every Put until gate is closed.
type stallingDirectory struct {
	*fakeDirectory
	gate chan struct{}
}

func (d *stallingDirectory) Put(ctx context.Context, snap models.Snapshot) error {
	select {
	case <-d.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.fakeDirectory.Put(ctx, snap)
}
