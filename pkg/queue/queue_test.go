package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewJob(t *testing.T) {
	job, err := NewJob(JobTypeSessionExport, map[string]string{"session_id": "abc"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobTypeSessionExport, job.Type)
	assert.Equal(t, 0, job.Attempt)
	assert.JSONEq(t, `{"session_id":"abc"}`, string(job.Payload))
}

func TestQueueRetryThenDeadLetter(t *testing.T) {
	addr := os.Getenv("SLEEPWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SLEEPWATCH_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	key := "test:exports:" + uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, key) })
	q := NewQueue(client, key, zap.NewNop())

	id, err := q.Enqueue(ctx, JobTypeSessionExport, map[string]int{"n": 1})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)

	before, err := client.LLen(ctx, QueueDLQ).Result()
	require.NoError(t, err)

	for i := 1; i < MaxRetries; i++ {
		require.NoError(t, q.Retry(ctx, job))
		again, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, i, again.Attempt)
		job = again
	}
	require.NoError(t, q.Retry(ctx, job))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	after, err := client.LLen(ctx, QueueDLQ).Result()
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	raw, err := client.RPop(ctx, QueueDLQ).Result()
	require.NoError(t, err)
	var dead Job
	require.NoError(t, json.Unmarshal([]byte(raw), &dead))
	assert.Equal(t, id, dead.ID)
	assert.Equal(t, MaxRetries, dead.Attempt)
}
