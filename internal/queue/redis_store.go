package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/affdash/internal/constants"

	"github.com/redis/go-redis/v9"
)

const jobTTL = 7 * 24 * time.Hour

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisJobStore 基于 Redis 的任务状态存储
// 每个任务一个 hash，终态任务按完成时间进入有序集合并裁剪
type RedisJobStore struct {
	client          *redis.Client
	prefix          string
	retainCompleted int
	retainFailed    int
}

// NewRedisJobStore 创建 Redis 任务存储
func NewRedisJobStore(client *redis.Client, prefix string, retainCompleted, retainFailed int) *RedisJobStore {
	if prefix == "" {
		prefix = "affdash"
	}
	return &RedisJobStore{
		client:          client,
		prefix:          prefix,
		retainCompleted: retainCompleted,
		retainFailed:    retainFailed,
	}
}

func (s *RedisJobStore) jobKey(id string) string {
	return fmt.Sprintf("%s:fetchjob:%s", s.prefix, id)
}

func (s *RedisJobStore) stateKey(state string) string {
	return fmt.Sprintf("%s:fetchjobs:%s", s.prefix, state)
}

func (s *RedisJobStore) lockKey(accountID uint) string {
	return fmt.Sprintf("%s:fetchlock:%d", s.prefix, accountID)
}

func (s *RedisJobStore) Create(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}
	key := s.jobKey(job.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"payload":    string(payload),
			"state":      job.State,
			"progress":   job.Progress,
			"attempts":   job.Attempts,
			"created_at": job.CreatedAt.UnixMilli(),
			"updated_at": job.UpdatedAt.UnixMilli(),
		})
		pipe.Expire(ctx, key, jobTTL)
		return nil
	})
	return err
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	job := &Job{
		ID:       id,
		State:    fields["state"],
		Progress: atoiOr(fields["progress"], 0),
		Attempts: atoiOr(fields["attempts"], 0),
		Error:    fields["error"],
	}
	if raw := fields["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Payload); err != nil {
			return nil, fmt.Errorf("decode job payload failed: %w", err)
		}
	}
	if raw := fields["result"]; raw != "" {
		job.Result = json.RawMessage(raw)
	}
	job.CreatedAt = msToTime(fields["created_at"])
	job.UpdatedAt = msToTime(fields["updated_at"])
	if raw := fields["finished_at"]; raw != "" {
		finished := msToTime(raw)
		job.FinishedAt = &finished
	}
	return job, nil
}

func (s *RedisJobStore) MarkActive(ctx context.Context, id string, attempt int) error {
	return s.set(ctx, id, map[string]interface{}{
		"state":    constants.JobStateActive,
		"attempts": attempt,
		"progress": 0,
	})
}

func (s *RedisJobStore) SetProgress(ctx context.Context, id string, progress int) error {
	return s.set(ctx, id, map[string]interface{}{"progress": progress})
}

func (s *RedisJobStore) MarkWaiting(ctx context.Context, id string, reason string) error {
	return s.set(ctx, id, map[string]interface{}{
		"state": constants.JobStateWaiting,
		"error": reason,
	})
}

func (s *RedisJobStore) MarkCompleted(ctx context.Context, id string, result json.RawMessage) error {
	return s.finish(ctx, id, constants.JobStateCompleted, s.retainCompleted, map[string]interface{}{
		"state":    constants.JobStateCompleted,
		"progress": constants.ProgressDone,
		"result":   string(result),
		"error":    "",
	})
}

func (s *RedisJobStore) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.finish(ctx, id, constants.JobStateFailed, s.retainFailed, map[string]interface{}{
		"state": constants.JobStateFailed,
		"error": reason,
	})
}

func (s *RedisJobStore) Remove(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.jobKey(id)).Err()
}

func (s *RedisJobStore) AcquireAccount(ctx context.Context, accountID uint, jobID string, ttl time.Duration) (string, bool, error) {
	key := s.lockKey(accountID)
	ok, err := s.client.SetNX(ctx, key, jobID, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return jobID, true, nil
	}
	holder, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// 锁刚好过期，重新抢占
		ok, err = s.client.SetNX(ctx, key, jobID, ttl).Result()
		if err != nil {
			return "", false, err
		}
		if ok {
			return jobID, true, nil
		}
		holder, err = s.client.Get(ctx, key).Result()
	}
	if err != nil {
		return "", false, err
	}
	if holder == jobID {
		return jobID, true, nil
	}
	return holder, false, nil
}

func (s *RedisJobStore) ReleaseAccount(ctx context.Context, accountID uint, jobID string) error {
	return releaseLockScript.Run(ctx, s.client, []string{s.lockKey(accountID)}, jobID).Err()
}

func (s *RedisJobStore) set(ctx context.Context, id string, fields map[string]interface{}) error {
	key := s.jobKey(id)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return nil
	}
	fields["updated_at"] = time.Now().UnixMilli()
	return s.client.HSet(ctx, key, fields).Err()
}

func (s *RedisJobStore) finish(ctx context.Context, id, state string, retain int, fields map[string]interface{}) error {
	now := time.Now().UnixMilli()
	fields["updated_at"] = now
	fields["finished_at"] = now
	key := s.jobKey(id)
	setKey := s.stateKey(state)
	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, jobTTL)
		pipe.ZAdd(ctx, setKey, redis.Z{Score: float64(now), Member: id})
		return nil
	}); err != nil {
		return err
	}
	return s.trim(ctx, setKey, retain)
}

// trim 淘汰超出保留数量的最早终态任务
func (s *RedisJobStore) trim(ctx context.Context, setKey string, retain int) error {
	if retain <= 0 {
		return nil
	}
	evicted, err := s.client.ZRange(ctx, setKey, 0, int64(-retain-1)).Result()
	if err != nil {
		return err
	}
	if len(evicted) == 0 {
		return nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range evicted {
			pipe.Del(ctx, s.jobKey(id))
			pipe.ZRem(ctx, setKey, id)
		}
		return nil
	})
	return err
}

func atoiOr(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func msToTime(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
