package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// activeJobTTL bounds the life of jobs that never reach a terminal status,
// such as those of a worker that died mid completion.
const activeJobTTL = 24 * time.Hour

// Redis is a Transport shared between server and worker processes.
//
// Keys per job:
//   - stream:<id>:status  string
//   - stream:<id>:task    string
//   - stream:<id>         list of tokens
type Redis struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedis(client *redis.Client, retention time.Duration) *Redis {
	return &Redis{client: client, retention: retention}
}

func statusKey(jobID string) string { return fmt.Sprintf("stream:%s:status", jobID) }
func taskKey(jobID string) string   { return fmt.Sprintf("stream:%s:task", jobID) }
func tokensKey(jobID string) string { return fmt.Sprintf("stream:%s", jobID) }

func (r *Redis) SetStatus(ctx context.Context, jobID string, status Status) error {
	ttl := activeJobTTL
	if status.Terminal() {
		ttl = r.retention
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, statusKey(jobID), string(status), ttl)
		pipe.Expire(ctx, taskKey(jobID), ttl)
		pipe.Expire(ctx, tokensKey(jobID), ttl)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to set status of job %s", jobID)
	}
	return nil
}

// Claim watches the status key so that of two racing claims only the first
// transaction commits.
func (r *Redis) Claim(ctx context.Context, jobID string) (bool, error) {
	key := statusKey(jobID)
	claimed := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		status, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if Status(status) != StatusPending {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(StatusStarted), activeJobTTL)
			return nil
		})
		if err != nil {
			return err
		}
		claimed = true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Someone else moved the job first.
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim job %s", jobID)
	}
	return claimed, nil
}

func (r *Redis) GetStatus(ctx context.Context, jobID string) (Status, error) {
	v, err := r.client.Get(ctx, statusKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to get status of job %s", jobID)
	}
	return Status(v), nil
}

func (r *Redis) SetTask(ctx context.Context, jobID, handle string) error {
	if err := r.client.Set(ctx, taskKey(jobID), handle, activeJobTTL).Err(); err != nil {
		return errors.Wrapf(err, "failed to set task of job %s", jobID)
	}
	return nil
}

func (r *Redis) GetTask(ctx context.Context, jobID string) (string, error) {
	v, err := r.client.Get(ctx, taskKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to get task of job %s", jobID)
	}
	return v, nil
}

func (r *Redis) AppendToken(ctx context.Context, jobID, token string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, tokensKey(jobID), token)
		pipe.Expire(ctx, tokensKey(jobID), activeJobTTL)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to append token to job %s", jobID)
	}
	return nil
}

func (r *Redis) ReadSince(ctx context.Context, jobID string, offset int) ([]string, error) {
	tokens, err := r.client.LRange(ctx, tokensKey(jobID), int64(offset), -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read job %s", jobID)
	}
	return tokens, nil
}

func (r *Redis) Exists(ctx context.Context, jobID string) (bool, error) {
	n, err := r.client.Exists(ctx, statusKey(jobID), tokensKey(jobID)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to check job %s", jobID)
	}
	return n > 0, nil
}

func (r *Redis) Trim(ctx context.Context, jobID string) error {
	if err := r.client.Del(ctx, statusKey(jobID), taskKey(jobID), tokensKey(jobID)).Err(); err != nil {
		return errors.Wrapf(err, "failed to trim job %s", jobID)
	}
	return nil
}
