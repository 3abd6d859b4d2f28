// Package summaries persists finalized sessions: one summary row and the
// ordered epoch list per session.
package summaries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sleepwatch/backend/internal/models"
)

const summaryColumns = `session_id, mode, subject_ref, start_time, end_time, end_reason,
	duration_minutes, sleep_score, wake_minutes, n1_minutes, n2_minutes, n3_minutes, rem_minutes,
	total_apnea_events, ahi, apnea_severity`

// Repository handles session_summaries and session_epochs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a summaries repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PersistSummary stores the summary and its epochs in one transaction. A
// session that was already persisted is left unchanged.
func (r *Repository) PersistSummary(ctx context.Context, s models.SessionSummary, epochs []models.Epoch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `INSERT INTO session_summaries (` + summaryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (session_id) DO NOTHING`
	tag, err := tx.Exec(ctx, q,
		s.SessionID, string(s.Mode), s.SubjectRef, s.StartTime, s.EndTime, string(s.EndReason),
		s.DurationMinutes, s.SleepScore, s.WakeMinutes, s.N1Minutes, s.N2Minutes, s.N3Minutes, s.REMMinutes,
		s.TotalApneas, s.AHI, string(s.Severity),
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if len(epochs) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"session_epochs"},
			[]string{"session_id", "epoch_index", "stage", "is_apnea"},
			pgx.CopyFromSlice(len(epochs), func(i int) ([]any, error) {
				e := epochs[i]
				return []any{s.SessionID, int32(e.Index), int16(e.Stage), e.IsApnea}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy epochs: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// LoadSummary returns the summary of a finalized session, or nil if unknown.
func (r *Repository) LoadSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	q := `SELECT ` + summaryColumns + ` FROM session_summaries WHERE session_id = $1`
	s, err := scanSummary(r.pool.QueryRow(ctx, q, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// LoadEpochs returns the stored epochs of a session ordered by index.
func (r *Repository) LoadEpochs(ctx context.Context, sessionID string) ([]models.Epoch, error) {
	const q = `SELECT epoch_index, stage, is_apnea FROM session_epochs WHERE session_id = $1 ORDER BY epoch_index`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Epoch
	for rows.Next() {
		var (
			index int32
			stage int16
			apnea bool
		)
		if err := rows.Scan(&index, &stage, &apnea); err != nil {
			return nil, err
		}
		out = append(out, models.NewEpoch(int(index), models.Stage(stage), apnea))
	}
	return out, rows.Err()
}

// LoadRecentSummaries returns summaries of sessions started at or after since, oldest first.
func (r *Repository) LoadRecentSummaries(ctx context.Context, since time.Time) ([]models.SessionSummary, error) {
	q := `SELECT ` + summaryColumns + ` FROM session_summaries WHERE start_time >= $1 ORDER BY start_time`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.SessionSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSummary(row pgx.Row) (*models.SessionSummary, error) {
	var (
		s                      models.SessionSummary
		mode, reason, severity string
	)
	err := row.Scan(&s.SessionID, &mode, &s.SubjectRef, &s.StartTime, &s.EndTime, &reason,
		&s.DurationMinutes, &s.SleepScore, &s.WakeMinutes, &s.N1Minutes, &s.N2Minutes, &s.N3Minutes, &s.REMMinutes,
		&s.TotalApneas, &s.AHI, &severity)
	if err != nil {
		return nil, err
	}
	s.Mode = models.Mode(mode)
	s.EndReason = models.EndReason(reason)
	s.Severity = models.ApneaSeverity(severity)
	s.StartTime = s.StartTime.UTC()
	s.EndTime = s.EndTime.UTC()
	return &s, nil
}
