package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"raito/internal/model"
)

// RedisStream stores one Redis hash field per job_id under a single
// key, giving last-write-wins via HSET without needing a separate key
// per update.
type RedisStream struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStream builds a RedisStream. ttl bounds how long progress
// for a finished job remains queryable; 0 disables expiry.
func NewRedisStream(client *redis.Client, ttl time.Duration) *RedisStream {
	return &RedisStream{client: client, key: "job_progress", ttl: ttl}
}

func (s *RedisStream) Update(ctx context.Context, jobID, status string, percent int, message string) error {
	update := model.ProgressUpdate{
		ID:        jobID,
		Status:    status,
		Percent:   percent,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("progress: encode update for %s: %w", jobID, err)
	}

	if err := s.client.HSet(ctx, s.key, jobID, payload).Err(); err != nil {
		return fmt.Errorf("progress: write update for %s: %w", jobID, err)
	}
	if s.ttl > 0 {
		// HSET has no per-field TTL; refresh the whole hash's expiry on
		// every write so active jobs never lapse mid-flight.
		_ = s.client.Expire(ctx, s.key, s.ttl).Err()
	}
	return nil
}

// Get reads the last-written progress for jobID, returning false if
// none has been recorded.
func (s *RedisStream) Get(ctx context.Context, jobID string) (*model.ProgressUpdate, bool, error) {
	raw, err := s.client.HGet(ctx, s.key, jobID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("progress: read update for %s: %w", jobID, err)
	}

	var update model.ProgressUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, false, fmt.Errorf("progress: decode update for %s: %w", jobID, err)
	}
	return &update, true, nil
}
