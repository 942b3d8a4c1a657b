package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/videogen/internal/model"
)

const (
	redisKeyPrefix    = "video:progress:"
	redisMaxTxRetries = 10
)

// RedisStore keeps each record as JSON under video:progress:<id>. Updates
// run under an in-process lock and a WATCH/MULTI transaction, so a write
// from another process between read and write forces a retry.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	keys   *keyedMutex
	now    func() time.Time
}

// NewRedisStore wraps an existing client. A zero ttl keeps records forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		keys:   newKeyedMutex(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func redisKey(jobID string) string {
	return redisKeyPrefix + jobID
}

func (s *RedisStore) Initialize(ctx context.Context, jobID string, restart bool) (model.ProgressRecord, error) {
	unlock := s.keys.Lock(jobID)
	defer unlock()

	rec := model.NewProgressRecord(jobID, s.now())
	data, err := json.Marshal(rec)
	if err != nil {
		return model.ProgressRecord{}, fmt.Errorf("marshal record: %w", err)
	}

	if restart {
		if err := s.client.Set(ctx, redisKey(jobID), data, s.ttl).Err(); err != nil {
			return model.ProgressRecord{}, fmt.Errorf("save record: %w", err)
		}
		return rec, nil
	}

	created, err := s.client.SetNX(ctx, redisKey(jobID), data, s.ttl).Result()
	if err != nil {
		return model.ProgressRecord{}, fmt.Errorf("save record: %w", err)
	}
	if !created {
		return model.ProgressRecord{}, fmt.Errorf("job %s: %w", jobID, ErrAlreadyExists)
	}
	return rec, nil
}

func (s *RedisStore) Update(ctx context.Context, jobID string, mutate Mutation) (model.ProgressRecord, error) {
	unlock := s.keys.Lock(jobID)
	defer unlock()

	key := redisKey(jobID)
	var written model.ProgressRecord
	var mutateErr error

	txf := func(tx *redis.Tx) error {
		rec, err := decodeRecord(tx.Get(ctx, key).Bytes())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
			}
			return err
		}

		if err := mutate(&rec); err != nil {
			mutateErr = err
			return err
		}
		rec.UpdatedAt = s.now()

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err == nil {
			written = rec
		}
		return err
	}

	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return written, nil
		}
		if mutateErr != nil {
			return model.ProgressRecord{}, mutateErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return model.ProgressRecord{}, err
	}
	return model.ProgressRecord{}, fmt.Errorf("update job %s: too many concurrent writers", jobID)
}

func (s *RedisStore) Read(ctx context.Context, jobID string) (model.ProgressRecord, error) {
	rec, err := decodeRecord(s.client.Get(ctx, redisKey(jobID)).Bytes())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ProgressRecord{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return model.ProgressRecord{}, err
	}
	return rec, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStore) Close() error { return nil }

func decodeRecord(data []byte, err error) (model.ProgressRecord, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.ProgressRecord{}, ErrNotFound
		}
		return model.ProgressRecord{}, fmt.Errorf("load record: %w", err)
	}
	var rec model.ProgressRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.ProgressRecord{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
