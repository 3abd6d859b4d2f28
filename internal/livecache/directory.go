// Package livecache advertises live sessions in Redis so any instance can
// answer for sessions hosted elsewhere.
package livecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sleepwatch/backend/internal/models"
)

const (
	keyPrefix = "sleep:live:"
	// DefaultTTL bounds how long a crashed host's sessions stay advertised.
	DefaultTTL = 5 * time.Minute
)

// Directory stores per-session snapshots under sleep:live:<id>.
type Directory struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDirectory creates a directory. ttl <= 0 uses DefaultTTL.
func NewDirectory(client *redis.Client, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Directory{client: client, ttl: ttl}
}

// Key returns the Redis key of a session.
func Key(sessionID string) string { return keyPrefix + sessionID }

// Put refreshes the session's entry. The epoch list is never stored.
func (d *Directory) Put(ctx context.Context, snap models.Snapshot) error {
	snap.Epochs = nil
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := d.client.Set(ctx, Key(snap.ID), body, d.ttl).Err(); err != nil {
		return fmt.Errorf("put live session: %w", err)
	}
	return nil
}

// Get returns the advertised snapshot, or nil, nil if none.
func (d *Directory) Get(ctx context.Context, sessionID string) (*models.Snapshot, error) {
	body, err := d.client.Get(ctx, Key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get live session: %w", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode live session: %w", err)
	}
	return &snap, nil
}

// Remove deletes the session's entry.
func (d *Directory) Remove(ctx context.Context, sessionID string) error {
	return d.client.Del(ctx, Key(sessionID)).Err()
}
