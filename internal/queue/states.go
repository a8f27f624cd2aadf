package queue

import (
	"context"
	"encoding/json"

	"github.com/affdash/internal/constants"
)

const jobStatusNotFound = "not_found"

// JobStatus 单个任务的状态视图
type JobStatus struct {
	JobID     string          `json:"job_id"`
	AccountID uint            `json:"account_id"`
	UserName  string          `json:"user_name"`
	Status    string          `json:"status"`
	Progress  int             `json:"progress"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// NotFoundStatus 未知、已淘汰或无权查看的任务
func NotFoundStatus(jobID string) JobStatus {
	return JobStatus{JobID: jobID, Status: jobStatusNotFound, Error: jobNotFoundMessage}
}

// IsNotFound 是否为未找到占位
func (s JobStatus) IsNotFound() bool {
	return s.Status == jobStatusNotFound
}

// JobStates 一批任务的汇总状态
type JobStates struct {
	TotalJobs     int         `json:"total_jobs"`
	CompletedJobs int         `json:"completed_jobs"`
	ActiveJobs    int         `json:"active_jobs"`
	WaitingJobs   int         `json:"waiting_jobs"`
	FailedJobs    int         `json:"failed_jobs"`
	IsCompleted   bool        `json:"is_completed"`
	Results       []JobStatus `json:"results"`
	Errors        []JobStatus `json:"errors"`
}

// CollectJobStates 汇总任务状态；未知或已淘汰的任务计入 errors
func CollectJobStates(ctx context.Context, store JobStore, ids []string) (*JobStates, error) {
	states := &JobStates{
		TotalJobs: len(ids),
		Results:   make([]JobStatus, 0, len(ids)),
		Errors:    make([]JobStatus, 0),
	}
	for _, id := range ids {
		job, err := store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			states.Errors = append(states.Errors, NotFoundStatus(id))
			continue
		}
		status := JobStatus{
			JobID:     job.ID,
			AccountID: job.Payload.AccountID,
			UserName:  job.Payload.UserName,
			Status:    job.State,
			Progress:  job.Progress,
		}
		switch job.State {
		case constants.JobStateCompleted:
			states.CompletedJobs++
			status.Result = job.Result
			states.Results = append(states.Results, status)
		case constants.JobStateFailed:
			states.FailedJobs++
			status.Error = job.Error
			states.Errors = append(states.Errors, status)
		case constants.JobStateActive:
			states.ActiveJobs++
			states.Results = append(states.Results, status)
		default:
			states.WaitingJobs++
			states.Results = append(states.Results, status)
		}
	}
	states.IsCompleted = states.ActiveJobs == 0 && states.WaitingJobs == 0
	return states, nil
}
