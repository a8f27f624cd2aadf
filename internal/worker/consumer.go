package worker

import (
	"context"
	"fmt"

	"github.com/affdash/internal/logger"
	"github.com/affdash/internal/provider"
	"github.com/affdash/internal/queue"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskReportFetch, c.handleReportFetch)
}

// handleReportFetch 执行一次报表抓取尝试
// asynq 的重试次数从 0 开始，这里换算为从 1 开始的尝试序号
func (c *Consumer) handleReportFetch(ctx context.Context, task *asynq.Task) error {
	if c == nil || c.Container == nil || c.FetchRunner == nil {
		logger.Warnw("worker_report_fetch_runner_missing")
		return fmt.Errorf("report fetch runner not configured: %w", asynq.SkipRetry)
	}
	payload, err := queue.ParseReportFetchTask(task)
	if err != nil {
		logger.Warnw("worker_report_fetch_invalid_payload", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	attempt := 1
	if retried, ok := asynq.GetRetryCount(ctx); ok {
		attempt = retried + 1
	}
	maxAttempts := c.maxAttempts()
	if maxRetry, ok := asynq.GetMaxRetry(ctx); ok {
		maxAttempts = maxRetry + 1
	}

	if err := c.FetchRunner.Run(ctx, payload, attempt, maxAttempts); err != nil {
		logger.Warnw("worker_report_fetch_failed",
			"job_id", payload.JobID,
			"account_id", payload.AccountID,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err,
		)
		return err
	}
	return nil
}

func (c *Consumer) maxAttempts() int {
	if c.Config == nil {
		return queue.OptionsFromConfig(nil).MaxAttempts
	}
	return queue.OptionsFromConfig(&c.Config.Queue).MaxAttempts
}
