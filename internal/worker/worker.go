// Package worker archives finalized sessions to object storage through the
// Redis job queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sleepwatch/backend/internal/models"
	"github.com/sleepwatch/backend/internal/session"
	"github.com/sleepwatch/backend/pkg/queue"
	"github.com/sleepwatch/backend/pkg/storage"
)

// ExportPayload is the payload of a session_export job.
type ExportPayload struct {
	Summary models.SessionSummary `json:"summary"`
	Epochs  []models.Epoch        `json:"epochs"`
}

// SessionArchive is the document stored for each finalized session.
type SessionArchive struct {
	Summary    models.SessionSummary `json:"summary"`
	Hypnogram  []models.Epoch        `json:"hypnogram"`
	ExportedAt time.Time             `json:"exported_at"`
}

// JobQueue is the subset of queue.Queue used here.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType queue.JobType, payload any) (string, error)
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ObjectStore uploads archives.
type ObjectStore interface {
	PutExport(ctx context.Context, sessionID string, body []byte) (string, error)
}

// LinkSigner presigns archive downloads.
type LinkSigner interface {
	ExportURL(ctx context.Context, sessionID string) (string, error)
}

// Exporter queues archive jobs for the session lifecycle.
type Exporter struct {
	queue  JobQueue
	logger *zap.Logger
}

// NewExporter creates an exporter backed by q.
func NewExporter(q JobQueue, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{queue: q, logger: logger}
}

// EnqueueExport queues the archival of a finalized session.
func (e *Exporter) EnqueueExport(ctx context.Context, summary models.SessionSummary, epochs []models.Epoch) error {
	id, err := e.queue.Enqueue(ctx, queue.JobTypeSessionExport, ExportPayload{Summary: summary, Epochs: epochs})
	if err != nil {
		return fmt.Errorf("enqueue export: %w", err)
	}
	e.logger.Debug("session export queued", zap.String("job_id", id), zap.String("session_id", summary.SessionID))
	return nil
}

// Links resolves download URLs for archived sessions.
type Links struct {
	signer LinkSigner
}

// NewLinks wraps signer.
func NewLinks(signer LinkSigner) *Links { return &Links{signer: signer} }

// ExportURL returns a download link, or session.ErrNotFound while the archive
// has not been written yet.
func (l *Links) ExportURL(ctx context.Context, sessionID string) (string, error) {
	url, err := l.signer.ExportURL(ctx, sessionID)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return "", fmt.Errorf("%w: export not ready", session.ErrNotFound)
	}
	return url, err
}

// ExportProcessor uploads queued session archives.
type ExportProcessor struct {
	queue   JobQueue
	store   ObjectStore
	backoff time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewExportProcessor creates a processor. backoff <= 0 uses queue.RetryBackoff.
func NewExportProcessor(q JobQueue, store ObjectStore, backoff time.Duration, logger *zap.Logger) *ExportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff <= 0 {
		backoff = queue.RetryBackoff
	}
	return &ExportProcessor{queue: q, store: store, backoff: backoff, now: time.Now, logger: logger}
}

// Process executes one export job.
func (p *ExportProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSessionExport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload ExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.Summary.SessionID == "" {
		return errors.New("export payload without session id")
	}

	epochs := payload.Epochs
	if epochs == nil {
		epochs = []models.Epoch{}
	}
	body, err := json.Marshal(SessionArchive{
		Summary:    payload.Summary,
		Hypnogram:  epochs,
		ExportedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	url, err := p.store.PutExport(ctx, payload.Summary.SessionID, body)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("session export completed",
		zap.String("session_id", payload.Summary.SessionID),
		zap.Int("epochs", len(epochs)),
		zap.String("url", url),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ExportProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("export worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ExportProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
