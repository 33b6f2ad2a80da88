package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paymnee/paygate/internal/core/domain"
)

const chunkTTL = 24 * time.Hour

// FailedChunkRepo keeps scan chunks that exhausted their retry budget.
// Chunk bodies live in plain keys with a TTL; a sorted set orders the
// queue by retry count so the least-retried chunk goes first.
type FailedChunkRepo struct {
	rdb *redis.Client
}

// NewFailedChunkRepo creates a Redis-backed failed chunk queue.
func NewFailedChunkRepo(client *Client) *FailedChunkRepo {
	return &FailedChunkRepo{rdb: client.rdb}
}

func queueKey(recipient string) string {
	return fmt.Sprintf("failed_chunks:%s", recipient)
}

func chunkKey(recipient, id string) string {
	return fmt.Sprintf("failed_chunk:%s:%s", recipient, id)
}

// Add parks a failed chunk.
func (r *FailedChunkRepo) Add(ctx context.Context, fc *domain.FailedChunk) error {
	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("failed to marshal failed chunk: %w", err)
	}

	if err := r.rdb.Set(ctx, chunkKey(fc.Recipient, fc.ID), data, chunkTTL).Err(); err != nil {
		return fmt.Errorf("failed to set failed chunk: %w", err)
	}

	if err := r.rdb.ZAdd(ctx, queueKey(fc.Recipient), redis.Z{
		Score:  float64(fc.RetryCount),
		Member: fc.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to queue: %w", err)
	}

	return nil
}

// GetNext returns the least-retried parked chunk for a recipient, or
// nil when the queue is empty.
func (r *FailedChunkRepo) GetNext(ctx context.Context, recipient string) (*domain.FailedChunk, error) {
	ids, err := r.rdb.ZRange(ctx, queueKey(recipient), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	id := ids[0]
	data, err := r.rdb.Get(ctx, chunkKey(recipient, id)).Bytes()
	if err == redis.Nil {
		// Body expired, drop the dangling queue entry.
		r.rdb.ZRem(ctx, queueKey(recipient), id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed chunk: %w", err)
	}

	var fc domain.FailedChunk
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed chunk: %w", err)
	}
	return &fc, nil
}

// IncrementRetry bumps the retry count and reorders the queue.
func (r *FailedChunkRepo) IncrementRetry(ctx context.Context, recipient, id string) error {
	data, err := r.rdb.Get(ctx, chunkKey(recipient, id)).Bytes()
	if err != nil {
		return fmt.Errorf("failed to get failed chunk: %w", err)
	}

	var fc domain.FailedChunk
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to unmarshal failed chunk: %w", err)
	}

	fc.RetryCount++
	fc.LastAttempt = time.Now().UTC()

	newData, err := json.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("failed to marshal failed chunk: %w", err)
	}
	if err := r.rdb.Set(ctx, chunkKey(recipient, id), newData, chunkTTL).Err(); err != nil {
		return fmt.Errorf("failed to set failed chunk: %w", err)
	}

	if err := r.rdb.ZAdd(ctx, queueKey(recipient), redis.Z{
		Score:  float64(fc.RetryCount),
		Member: id,
	}).Err(); err != nil {
		return fmt.Errorf("failed to update queue: %w", err)
	}
	return nil
}

// MarkResolved removes a chunk after a successful retry.
func (r *FailedChunkRepo) MarkResolved(ctx context.Context, recipient, id string) error {
	if err := r.rdb.ZRem(ctx, queueKey(recipient), id).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	if err := r.rdb.Del(ctx, chunkKey(recipient, id)).Err(); err != nil {
		return fmt.Errorf("failed to delete failed chunk: %w", err)
	}
	return nil
}

// GetAll lists every parked chunk for a recipient.
func (r *FailedChunkRepo) GetAll(ctx context.Context, recipient string) ([]*domain.FailedChunk, error) {
	ids, err := r.rdb.ZRange(ctx, queueKey(recipient), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	chunks := make([]*domain.FailedChunk, 0, len(ids))
	for _, id := range ids {
		data, err := r.rdb.Get(ctx, chunkKey(recipient, id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get failed chunk: %w", err)
		}
		var fc domain.FailedChunk
		if err := json.Unmarshal(data, &fc); err != nil {
			continue
		}
		chunks = append(chunks, &fc)
	}
	return chunks, nil
}

// Count returns how many chunks are parked for a recipient.
func (r *FailedChunkRepo) Count(ctx context.Context, recipient string) (int, error) {
	n, err := r.rdb.ZCard(ctx, queueKey(recipient)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(n), nil
}
