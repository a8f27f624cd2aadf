package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/affdash/internal/logger"

	"github.com/google/uuid"
)

type memoryTask struct {
	payload FetchPayload
	attempt int
}

// MemoryQueue 进程内任务队列，queue.enabled=false 时使用
type MemoryQueue struct {
	store   JobStore
	runner  *Runner
	opts    Options
	pending chan memoryTask
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

// NewMemoryQueue 创建进程内队列并启动 opts.Concurrency 个消费协程
func NewMemoryQueue(store JobStore, processor Processor, opts Options) *MemoryQueue {
	opts = opts.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue{
		store:   store,
		runner:  NewRunner(store, processor),
		opts:    opts,
		pending: make(chan memoryTask, 1024),
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[*time.Timer]struct{}),
	}
	for i := 0; i < opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Enqueue 推送报表抓取任务
func (q *MemoryQueue) Enqueue(ctx context.Context, payload FetchPayload) (string, error) {
	if q.isClosed() {
		return "", ErrQueueClosed
	}
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	if err := q.store.Create(ctx, newJob(payload, time.Now())); err != nil {
		return "", fmt.Errorf("create job record failed: %w", err)
	}
	if err := reserveAccount(ctx, q.store, payload, q.opts.AccountLockTTL); err != nil {
		_ = q.store.Remove(ctx, payload.JobID)
		return "", err
	}
	q.push(memoryTask{payload: payload, attempt: 1})
	return payload.JobID, nil
}

// JobStates 汇总任务状态
func (q *MemoryQueue) JobStates(ctx context.Context, ids []string) (*JobStates, error) {
	return CollectJobStates(ctx, q.store, ids)
}

// Close 停止消费协程并丢弃未开始的重试
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}

func (q *MemoryQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *MemoryQueue) push(task memoryTask) {
	select {
	case q.pending <- task:
	default:
		go func() {
			select {
			case q.pending <- task:
			case <-q.ctx.Done():
			}
		}()
	}
}

func (q *MemoryQueue) work() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.pending:
			q.run(task)
		}
	}
}

func (q *MemoryQueue) run(task memoryTask) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("memory_queue_job_panic", "job_id", task.payload.JobID, "panic", r)
		}
	}()
	err := q.runner.Run(q.ctx, task.payload, task.attempt, q.opts.MaxAttempts)
	if err == nil || task.attempt >= q.opts.MaxAttempts {
		return
	}
	q.retryLater(memoryTask{payload: task.payload, attempt: task.attempt + 1}, q.opts.BackoffDelay(task.attempt-1))
}

func (q *MemoryQueue) retryLater(task memoryTask, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		if q.timers != nil {
			delete(q.timers, timer)
		}
		q.mu.Unlock()
		q.push(task)
	})
	q.timers[timer] = struct{}{}
}
