package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/affdash/internal/config"
	"github.com/affdash/internal/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// DefaultQueue 默认队列名称
	DefaultQueue = "report-fetch"
)

// Client 基于 asynq 的抓取任务队列
type Client struct {
	client *asynq.Client
	store  JobStore
	opts   Options
	now    func() time.Time
}

// NewClient 创建队列客户端
func NewClient(cfg *config.QueueConfig, store JobStore) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if store == nil {
		return nil, errors.New("job store is nil")
	}
	return &Client{
		client: asynq.NewClient(buildRedisOpt(cfg)),
		store:  store,
		opts:   OptionsFromConfig(cfg),
		now:    time.Now,
	}, nil
}

// Enqueue 推送报表抓取任务，账号已有未完成任务时返回 InFlightError
func (c *Client) Enqueue(ctx context.Context, payload FetchPayload) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrQueueClosed
	}
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	if err := c.store.Create(ctx, newJob(payload, c.now())); err != nil {
		return "", fmt.Errorf("create job record failed: %w", err)
	}
	if err := reserveAccount(ctx, c.store, payload, c.opts.AccountLockTTL); err != nil {
		_ = c.store.Remove(ctx, payload.JobID)
		return "", err
	}
	task, err := NewReportFetchTask(payload)
	if err == nil {
		_, err = c.client.EnqueueContext(ctx, task,
			asynq.Queue(c.opts.Name),
			asynq.TaskID(payload.JobID),
			asynq.MaxRetry(c.opts.MaxAttempts-1),
		)
	}
	if err != nil {
		_ = c.store.ReleaseAccount(ctx, payload.AccountID, payload.JobID)
		_ = c.store.Remove(ctx, payload.JobID)
		logger.Warnw("queue_enqueue_fetch_failed", "job_id", payload.JobID, "account_id", payload.AccountID, "error", err)
		return "", err
	}
	return payload.JobID, nil
}

// JobStates 汇总任务状态
func (c *Client) JobStates(ctx context.Context, ids []string) (*JobStates, error) {
	return CollectJobStates(ctx, c.store, ids)
}

// Store 任务状态存储
func (c *Client) Store() JobStore {
	return c.store
}

// Close 关闭客户端
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// BuildServerConfig 生成队列服务配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	opt := buildRedisOpt(cfg)
	opts := OptionsFromConfig(cfg)
	return opt, asynq.Config{
		Concurrency: opts.Concurrency,
		Queues:      map[string]int{opts.Name: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return opts.BackoffDelay(n)
		},
		Logger: logger.S(),
	}
}

func buildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	password := ""
	db := 0
	if cfg != nil {
		if strings.TrimSpace(cfg.Host) != "" {
			host = strings.TrimSpace(cfg.Host)
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		password = cfg.Password
		db = cfg.DB
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	}
}
