package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/affdash/internal/config"
	"github.com/affdash/internal/constants"
)

var (
	// ErrFetchInFlight 账号已有未完成的抓取任务
	ErrFetchInFlight = errors.New("fetch already in flight for account")
	// ErrQueueClosed 队列已关闭
	ErrQueueClosed = errors.New("queue closed")
)

const jobNotFoundMessage = "job not found"

// InFlightError 携带正在运行的任务 ID
type InFlightError struct {
	AccountID uint
	JobID     string
}

func (e *InFlightError) Error() string {
	return fmt.Sprintf("account %d already has fetch job %s", e.AccountID, e.JobID)
}

// Is 匹配 ErrFetchInFlight
func (e *InFlightError) Is(target error) bool {
	return target == ErrFetchInFlight
}

// Job 抓取任务记录
type Job struct {
	ID         string          `json:"id"`
	Payload    FetchPayload    `json:"payload"`
	State      string          `json:"state"`
	Progress   int             `json:"progress"`
	Attempts   int             `json:"attempts"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Finished 是否已进入终态
func (j *Job) Finished() bool {
	return j != nil && (j.State == constants.JobStateCompleted || j.State == constants.JobStateFailed)
}

// JobStore 任务状态存储
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	// Get 不存在或已被淘汰时返回 nil, nil
	Get(ctx context.Context, id string) (*Job, error)
	MarkActive(ctx context.Context, id string, attempt int) error
	SetProgress(ctx context.Context, id string, progress int) error
	MarkWaiting(ctx context.Context, id string, reason string) error
	MarkCompleted(ctx context.Context, id string, result json.RawMessage) error
	MarkFailed(ctx context.Context, id string, reason string) error
	Remove(ctx context.Context, id string) error
	// AcquireAccount 抢占账号锁，失败时返回当前持有者
	AcquireAccount(ctx context.Context, accountID uint, jobID string, ttl time.Duration) (string, bool, error)
	ReleaseAccount(ctx context.Context, accountID uint, jobID string) error
}

// JobQueue 抓取任务队列
type JobQueue interface {
	Enqueue(ctx context.Context, payload FetchPayload) (string, error)
	JobStates(ctx context.Context, ids []string) (*JobStates, error)
	Close() error
}

// Options 队列运行参数
type Options struct {
	Name            string
	Concurrency     int
	MaxAttempts     int
	BackoffBase     time.Duration
	RetainCompleted int
	RetainFailed    int
	AccountLockTTL  time.Duration
}

// OptionsFromConfig 从配置生成队列参数
func OptionsFromConfig(cfg *config.QueueConfig) Options {
	opts := Options{}
	if cfg != nil {
		opts = Options{
			Name:            cfg.Name,
			Concurrency:     cfg.Concurrency,
			MaxAttempts:     cfg.MaxAttempts,
			BackoffBase:     time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
			RetainCompleted: cfg.RetainCompleted,
			RetainFailed:    cfg.RetainFailed,
			AccountLockTTL:  time.Duration(cfg.AccountLockTTLMS) * time.Millisecond,
		}
	}
	return opts.normalize()
}

func (o Options) normalize() Options {
	if o.Name == "" {
		o.Name = DefaultQueue
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.RetainCompleted <= 0 {
		o.RetainCompleted = 100
	}
	if o.RetainFailed <= 0 {
		o.RetainFailed = 100
	}
	if o.AccountLockTTL <= 0 {
		o.AccountLockTTL = 30 * time.Minute
	}
	return o
}

// BackoffDelay 第 n 次重试（从 0 开始）前的等待时间，指数退避
func (o Options) BackoffDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 16 {
		n = 16
	}
	return o.BackoffBase * time.Duration(1<<uint(n))
}

// newJob 构造等待中的任务记录
func newJob(payload FetchPayload, now time.Time) *Job {
	return &Job{
		ID:        payload.JobID,
		Payload:   payload,
		State:     constants.JobStateWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// reserveAccount 为任务抢占账号锁；持有者已结束或丢失时视为过期锁
func reserveAccount(ctx context.Context, store JobStore, payload FetchPayload, ttl time.Duration) error {
	for i := 0; i < 2; i++ {
		holder, ok, err := store.AcquireAccount(ctx, payload.AccountID, payload.JobID, ttl)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		existing, err := store.Get(ctx, holder)
		if err != nil {
			return err
		}
		if existing != nil && !existing.Finished() {
			return &InFlightError{AccountID: payload.AccountID, JobID: holder}
		}
		if err := store.ReleaseAccount(ctx, payload.AccountID, holder); err != nil {
			return err
		}
	}
	return errors.New("acquire account lock failed")
}
