package queue

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
)

const (
	// TaskReportFetch 单账号报表抓取任务
	TaskReportFetch = "report:fetch"
)

// FetchPayload 报表抓取任务载荷
type FetchPayload struct {
	JobID          string `json:"job_id"`
	AccountID      uint   `json:"account_id"`
	ExternalUserID int64  `json:"external_user_id"`
	UserName       string `json:"user_name"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	ChannelID      int64  `json:"channel_id"`
}

// NewReportFetchTask 创建报表抓取任务
func NewReportFetchTask(payload FetchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportFetch, body), nil
}

// ParseReportFetchTask 解析任务载荷
func ParseReportFetchTask(task *asynq.Task) (FetchPayload, error) {
	var payload FetchPayload
	if task == nil {
		return payload, errors.New("task is nil")
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	if payload.JobID == "" || payload.AccountID == 0 {
		return payload, errors.New("fetch payload missing job id or account id")
	}
	return payload, nil
}
