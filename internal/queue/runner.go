package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/affdash/internal/logger"
)

// ErrJobPanicked 处理器 panic，按普通失败参与重试
var ErrJobPanicked = errors.New("fetch job panicked")

// ProgressFunc 任务进度回调（0-100）
type ProgressFunc func(progress int)

// Processor 执行单个抓取任务
type Processor interface {
	ProcessFetchJob(ctx context.Context, payload FetchPayload, progress ProgressFunc) (interface{}, error)
}

// Runner 驱动一次任务尝试并维护 JobStore 中的状态
type Runner struct {
	store     JobStore
	processor Processor
}

// NewRunner 创建任务执行器
func NewRunner(store JobStore, processor Processor) *Runner {
	return &Runner{store: store, processor: processor}
}

// Run 执行第 attempt 次尝试（从 1 开始）；返回错误表示本次尝试失败
func (r *Runner) Run(ctx context.Context, payload FetchPayload, attempt, maxAttempts int) error {
	if r == nil || r.store == nil || r.processor == nil {
		return errors.New("runner not initialized")
	}
	log := logger.ForJob(payload.JobID, payload.AccountID, payload.ExternalUserID)
	if err := r.store.MarkActive(ctx, payload.JobID, attempt); err != nil {
		log.Warnw("job_mark_active_failed", "error", err)
	}

	progress := func(p int) {
		if err := r.store.SetProgress(ctx, payload.JobID, p); err != nil {
			log.Warnw("job_progress_update_failed", "progress", p, "error", err)
		}
	}
	result, err := r.process(ctx, payload, progress)
	if err != nil {
		if attempt >= maxAttempts {
			log.Warnw("job_failed", "attempt", attempt, "error", err)
			if markErr := r.store.MarkFailed(ctx, payload.JobID, err.Error()); markErr != nil {
				log.Warnw("job_mark_failed_failed", "error", markErr)
			}
			r.release(ctx, payload)
			return err
		}
		log.Infow("job_attempt_failed", "attempt", attempt, "max_attempts", maxAttempts, "error", err)
		if markErr := r.store.MarkWaiting(ctx, payload.JobID, err.Error()); markErr != nil {
			log.Warnw("job_mark_waiting_failed", "error", markErr)
		}
		return err
	}

	body, err := json.Marshal(result)
	if err != nil {
		log.Warnw("job_result_marshal_failed", "error", err)
		body = nil
	}
	if err := r.store.MarkCompleted(ctx, payload.JobID, body); err != nil {
		log.Warnw("job_mark_completed_failed", "error", err)
	}
	r.release(ctx, payload)
	log.Infow("job_completed", "attempt", attempt)
	return nil
}

func (r *Runner) process(ctx context.Context, payload FetchPayload, progress ProgressFunc) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorw("job_processor_panic", "job_id", payload.JobID, "account_id", payload.AccountID, "panic", rec)
			result, err = nil, fmt.Errorf("%w: %v", ErrJobPanicked, rec)
		}
	}()
	return r.processor.ProcessFetchJob(ctx, payload, progress)
}

func (r *Runner) release(ctx context.Context, payload FetchPayload) {
	if err := r.store.ReleaseAccount(context.WithoutCancel(ctx), payload.AccountID, payload.JobID); err != nil {
		logger.Warnw("job_release_account_failed", "job_id", payload.JobID, "account_id", payload.AccountID, "error", err)
	}
}
