package summaries

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sleepwatch/backend/internal/models"
	"github.com/sleepwatch/backend/pkg/database"
)

// Runs against a real database when SLEEPWATCH_TEST_DATABASE_URL is set.
func TestRepositoryRoundTrip(t *testing.T) {
	dsn := os.Getenv("SLEEPWATCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SLEEPWATCH_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, dsn, database.PoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	defer pool.Close()
	_, err = database.Migrate(ctx, pool)
	require.NoError(t, err)

	repo := NewRepository(pool)
	start := time.Now().UTC().Truncate(time.Second)
	s := models.SessionSummary{
		SessionID:       uuid.NewString(),
		Mode:            models.ModeSynthetic,
		StartTime:       start,
		EndTime:         start.Add(time.Minute),
		EndReason:       models.EndReasonStopped,
		DurationMinutes: 1,
		SleepScore:      42,
		WakeMinutes:     0.5,
		N1Minutes:       0.5,
		TotalApneas:     1,
		AHI:             120,
		Severity:        models.SeveritySevere,
	}
	epochs := []models.Epoch{models.NewEpoch(0, models.StageWake, false), models.NewEpoch(1, models.StageN1, true)}
	require.NoError(t, repo.PersistSummary(ctx, s, epochs))
	require.NoError(t, repo.PersistSummary(ctx, s, epochs))

	got, err := repo.LoadSummary(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s, *got)

	gotEpochs, err := repo.LoadEpochs(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, epochs, gotEpochs)

	recent, err := repo.LoadRecentSummaries(ctx, start.Add(-time.Second))
	require.NoError(t, err)
	assert.NotEmpty(t, recent)

	none, err := repo.LoadSummary(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, none)
}
