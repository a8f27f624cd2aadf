package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/affdash/internal/config"
	"github.com/affdash/internal/constants"
	"github.com/affdash/internal/provider"
	"github.com/affdash/internal/queue"

	"github.com/hibiken/asynq"
)

type stubProcessor struct {
	calls int
	err   error
}

func (p *stubProcessor) ProcessFetchJob(_ context.Context, payload queue.FetchPayload, progress queue.ProgressFunc) (interface{}, error) {
	p.calls++
	progress(50)
	if p.err != nil {
		return nil, p.err
	}
	return map[string]interface{}{"account_id": payload.AccountID}, nil
}

func setupConsumer(t *testing.T, processor queue.Processor) (*Consumer, *queue.MemoryJobStore) {
	t.Helper()
	store := queue.NewMemoryJobStore(10, 10)
	cfg := &config.Config{Queue: config.QueueConfig{MaxAttempts: 2}}
	c := &provider.Container{
		Config:      cfg,
		JobStore:    store,
		FetchRunner: queue.NewRunner(store, processor),
	}
	return NewConsumer(c), store
}

func createJob(t *testing.T, store queue.JobStore, payload queue.FetchPayload) *asynq.Task {
	t.Helper()
	now := time.Now()
	if err := store.Create(context.Background(), &queue.Job{
		ID:        payload.JobID,
		Payload:   payload,
		State:     constants.JobStateWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create job failed: %v", err)
	}
	task, err := queue.NewReportFetchTask(payload)
	if err != nil {
		t.Fatalf("new task failed: %v", err)
	}
	return task
}

func TestHandleReportFetchCompletesJob(t *testing.T) {
	processor := &stubProcessor{}
	consumer, store := setupConsumer(t, processor)
	task := createJob(t, store, queue.FetchPayload{JobID: "job-1", AccountID: 7, ExternalUserID: 70, StartDate: "2024-01-01", EndDate: "2024-01-02"})

	if err := consumer.handleReportFetch(context.Background(), task); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	job, err := store.Get(context.Background(), "job-1")
	if err != nil || job == nil {
		t.Fatalf("get job failed: %v", err)
	}
	if job.State != constants.JobStateCompleted || processor.calls != 1 {
		t.Fatalf("unexpected job state=%s calls=%d", job.State, processor.calls)
	}
}

func TestHandleReportFetchFailsOnLastAttempt(t *testing.T) {
	processor := &stubProcessor{err: errors.New("upstream down")}
	consumer, store := setupConsumer(t, processor)
	task := createJob(t, store, queue.FetchPayload{JobID: "job-2", AccountID: 8})

	// 无 asynq 上下文时按配置的最大次数计算，第 1 次失败仍可重试
	if err := consumer.handleReportFetch(context.Background(), task); err == nil {
		t.Fatalf("expected error")
	}
	job, _ := store.Get(context.Background(), "job-2")
	if job == nil || job.Finished() {
		t.Fatalf("job should still be retryable: %+v", job)
	}

	if err := consumer.FetchRunner.Run(context.Background(), queue.FetchPayload{JobID: "job-2", AccountID: 8}, 2, 2); err == nil {
		t.Fatalf("expected error on final attempt")
	}
	job, _ = store.Get(context.Background(), "job-2")
	if job == nil || job.State != constants.JobStateFailed || job.Error != "upstream down" {
		t.Fatalf("unexpected job after final attempt: %+v", job)
	}
}

func TestHandleReportFetchSkipsRetryOnBadPayload(t *testing.T) {
	consumer, _ := setupConsumer(t, &stubProcessor{})
	err := consumer.handleReportFetch(context.Background(), asynq.NewTask(queue.TaskReportFetch, []byte(`{"job_id":""}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	var nilConsumer *Consumer
	if err := nilConsumer.handleReportFetch(context.Background(), nil); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for missing runner, got %v", err)
	}
}
