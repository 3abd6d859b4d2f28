package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "CORPUS_ROOT", "CORPUS_EDF_DIR", "CORPUS_ANNOTATION_DIR", "EPOCH_INTERVAL_MS", "JWT_REQUIRED", "REDIS_ENABLED", "HEARTBEAT_INTERVAL_SEC", "HEARTBEAT_TIMEOUT_SEC"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Database.Enabled())
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.AWS.Enabled())
	assert.Equal(t, 2*time.Second, cfg.Monitor.EpochInterval())
	assert.Equal(t, 200, cfg.Monitor.MaxSyntheticEpochs)
	assert.Equal(t, 30, cfg.Monitor.HeartbeatIntervalSec)
	assert.Equal(t, 60, cfg.Monitor.HeartbeatTimeoutSec)
	assert.Equal(t, 64, cfg.Monitor.SendBuffer)
	assert.Equal(t, 10, cfg.Corpus.MaxSubjects)
	assert.Empty(t, cfg.Corpus.EDFDir)
}

func TestLoadCorpusRoot(t *testing.T) {
	t.Setenv("CORPUS_ROOT", "/data/shhs")
	t.Setenv("CORPUS_EDF_DIR", "")
	t.Setenv("CORPUS_ANNOTATION_DIR", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/shhs", "edfs"), cfg.Corpus.EDFDir)
	assert.Equal(t, filepath.Join("/data/shhs", "annotations-events-nsrr"), cfg.Corpus.AnnotationDir)
}

func TestLoadRejectsBadHeartbeat(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL_SEC", "60")
	t.Setenv("HEARTBEAT_TIMEOUT_SEC", "30")

	_, err := Load()
	assert.Error(t, err)
}
