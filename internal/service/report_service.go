package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/affdash/internal/constants"
	"github.com/affdash/internal/cookiecrypt"
	"github.com/affdash/internal/fetcher"
	"github.com/affdash/internal/logger"
	"github.com/affdash/internal/models"
	"github.com/affdash/internal/queue"
	"github.com/affdash/internal/reportcache"
	"github.com/affdash/internal/repository"
	"github.com/affdash/internal/upstream"
)

// BillingClient 结算账单接口
type BillingClient interface {
	FetchBillingList(ctx context.Context, cookies string, startSec, endSec int64) (*upstream.BillingResponse, error)
}

// ReportService 报表抓取与汇总服务
type ReportService struct {
	accountRepo repository.AccountRepository
	jobs        queue.JobQueue
	cache       reportcache.Store
	fetcher     *fetcher.Fetcher
	billing     BillingClient
	cipher      *cookiecrypt.Cipher
	location    *time.Location
	now         func() time.Time
}

// NewReportService 创建报表服务
func NewReportService(
	accountRepo repository.AccountRepository,
	jobs queue.JobQueue,
	cache reportcache.Store,
	f *fetcher.Fetcher,
	billing BillingClient,
	cipher *cookiecrypt.Cipher,
	location *time.Location,
) *ReportService {
	if location == nil {
		location = time.UTC
	}
	return &ReportService{
		accountRepo: accountRepo,
		jobs:        jobs,
		cache:       cache,
		fetcher:     f,
		billing:     billing,
		cipher:      cipher,
		location:    location,
		now:         time.Now,
	}
}

// FetchRequest 批量抓取请求
type FetchRequest struct {
	StartDate  string
	EndDate    string
	AccountIDs []uint
	GroupID    uint
	ChannelID  int64
}

// InFlightJob 已有未完成任务的账号
type InFlightJob struct {
	AccountID uint   `json:"account_id"`
	UserName  string `json:"user_name"`
	JobID     string `json:"job_id"`
}

// FetchEnqueueResult 批量抓取入队结果
type FetchEnqueueResult struct {
	Message       string        `json:"message"`
	TotalAccounts int           `json:"total_accounts"`
	JobIDs        []string      `json:"job_ids"`
	InFlight      []InFlightJob `json:"in_flight"`
}

// EnqueueFetch 为选中的账号推送抓取任务
// 选择顺序：AccountIDs，其次 GroupID，否则全部可见账号
func (s *ReportService) EnqueueFetch(ctx context.Context, req FetchRequest, viewer Viewer) (*FetchEnqueueResult, error) {
	req.StartDate, req.EndDate = strings.TrimSpace(req.StartDate), strings.TrimSpace(req.EndDate)
	if _, _, err := dayRangeMillis(req.StartDate, req.EndDate, s.location); err != nil {
		return nil, err
	}
	filter := repository.AccountListFilter{GroupIDs: viewer.scopeGroupIDs()}
	switch {
	case len(req.AccountIDs) > 0:
		filter.IDs = req.AccountIDs
	case req.GroupID != 0:
		if !viewer.CanAccessGroup(req.GroupID) {
			return nil, ErrForbidden
		}
		filter.GroupID = req.GroupID
	}
	accounts, _, err := s.accountRepo.List(filter)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	result := &FetchEnqueueResult{
		Message:       "all accounts queued",
		TotalAccounts: len(accounts),
		JobIDs:        make([]string, 0, len(accounts)),
		InFlight:      make([]InFlightJob, 0),
	}
	for _, account := range accounts {
		jobID, err := s.jobs.Enqueue(ctx, queue.FetchPayload{
			AccountID:      account.ID,
			ExternalUserID: account.ExternalUserID,
			UserName:       account.UserName,
			StartDate:      req.StartDate,
			EndDate:        req.EndDate,
			ChannelID:      req.ChannelID,
		})
		if err != nil {
			var inFlight *queue.InFlightError
			if errors.As(err, &inFlight) {
				result.JobIDs = append(result.JobIDs, inFlight.JobID)
				result.InFlight = append(result.InFlight, InFlightJob{AccountID: account.ID, UserName: account.UserName, JobID: inFlight.JobID})
				continue
			}
			return nil, fmt.Errorf("enqueue account %d: %w", account.ID, err)
		}
		result.JobIDs = append(result.JobIDs, jobID)
	}
	logger.Infow("report_fetch_enqueued",
		"total_accounts", result.TotalAccounts,
		"in_flight", len(result.InFlight),
		"start_date", req.StartDate,
		"end_date", req.EndDate,
		"channel_id", req.ChannelID,
	)
	return result, nil
}

// GetJobStates 查询任务状态，普通用户只能看到其分组内账号的任务
func (s *ReportService) GetJobStates(ctx context.Context, jobIDs []string, viewer Viewer) (*queue.JobStates, error) {
	ids := make([]string, 0, len(jobIDs))
	for _, id := range jobIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, ErrJobIDsRequired
	}
	states, err := s.jobs.JobStates(ctx, ids)
	if err != nil || viewer.IsAdmin() {
		return states, err
	}
	return s.scopeJobStates(states, viewer)
}

// scopeJobStates 越权任务按未找到返回，并重新统计各状态数量
func (s *ReportService) scopeJobStates(states *queue.JobStates, viewer Viewer) (*queue.JobStates, error) {
	accountIDs := make([]uint, 0, len(states.Results)+len(states.Errors))
	for _, list := range [][]queue.JobStatus{states.Results, states.Errors} {
		for _, item := range list {
			if item.AccountID != 0 {
				accountIDs = append(accountIDs, item.AccountID)
			}
		}
	}
	allowed := make(map[uint]bool, len(accountIDs))
	if len(accountIDs) > 0 {
		accounts, _, err := s.accountRepo.List(repository.AccountListFilter{IDs: accountIDs, GroupIDs: viewer.scopeGroupIDs()})
		if err != nil {
			return nil, err
		}
		for i := range accounts {
			if viewer.CanAccessAccount(&accounts[i]) {
				allowed[accounts[i].ID] = true
			}
		}
	}

	scoped := &queue.JobStates{
		TotalJobs: states.TotalJobs,
		Results:   make([]queue.JobStatus, 0, len(states.Results)),
		Errors:    make([]queue.JobStatus, 0, len(states.Errors)),
	}
	for _, item := range states.Results {
		if !allowed[item.AccountID] {
			scoped.Errors = append(scoped.Errors, queue.NotFoundStatus(item.JobID))
			continue
		}
		switch item.Status {
		case constants.JobStateCompleted:
			scoped.CompletedJobs++
		case constants.JobStateActive:
			scoped.ActiveJobs++
		default:
			scoped.WaitingJobs++
		}
		scoped.Results = append(scoped.Results, item)
	}
	for _, item := range states.Errors {
		if item.IsNotFound() || !allowed[item.AccountID] {
			scoped.Errors = append(scoped.Errors, queue.NotFoundStatus(item.JobID))
			continue
		}
		scoped.FailedJobs++
		scoped.Errors = append(scoped.Errors, item)
	}
	scoped.IsCompleted = scoped.ActiveJobs == 0 && scoped.WaitingJobs == 0
	return scoped, nil
}

// FetchStatus 缓存完成度
type FetchStatus struct {
	TotalAccounts     int  `json:"total_accounts"`
	CompletedAccounts int  `json:"completed_accounts"`
	IsCompleted       bool `json:"is_completed"`
}

// GetFetchStatus 根据缓存是否存在统计完成度
func (s *ReportService) GetFetchStatus(ctx context.Context, startDate, endDate string, groupID uint, viewer Viewer) (*FetchStatus, error) {
	if _, _, err := dayRangeMillis(startDate, endDate, s.location); err != nil {
		return nil, err
	}
	accounts, err := s.scopedAccounts(groupID, viewer)
	if err != nil {
		return nil, err
	}
	status := &FetchStatus{TotalAccounts: len(accounts)}
	for _, account := range accounts {
		ok, err := s.cache.Exists(ctx, account.ExternalUserID, startDate, endDate)
		if err != nil {
			return nil, err
		}
		if ok {
			status.CompletedAccounts++
		}
	}
	status.IsCompleted = status.CompletedAccounts == status.TotalAccounts
	return status, nil
}

// Channel 报表渠道
type Channel struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Channels 固定渠道列表
func (s *ReportService) Channels() []Channel {
	return []Channel{
		{ID: constants.ChannelAll, Name: "all"},
		{ID: constants.ChannelSocial, Name: "social"},
		{ID: constants.ChannelVideo, Name: "video"},
		{ID: constants.ChannelLivestream, Name: "livestream"},
	}
}

// ConversionRequest 单账号实时转化数据请求
type ConversionRequest struct {
	AccountID uint
	StartDate string
	EndDate   string
	ChannelID int64
}

// ConversionResult 实时转化数据
type ConversionResult struct {
	Items        []upstream.CommissionRecord `json:"items"`
	Total        int                         `json:"total"`
	TotalCount   int                         `json:"total_count"`
	MissingPages []int                       `json:"missing_pages,omitempty"`
}

// FetchConversion 同步拉取单账号全部分页，不写缓存
func (s *ReportService) FetchConversion(ctx context.Context, req ConversionRequest, viewer Viewer) (*ConversionResult, error) {
	startMs, endMs, err := dayRangeMillis(req.StartDate, req.EndDate, s.location)
	if err != nil {
		return nil, err
	}
	account, cookies, err := s.accountCookies(req.AccountID, viewer)
	if err != nil {
		return nil, err
	}
	fetched, err := s.fetcher.FetchAll(ctx, cookies, startMs, endMs, req.ChannelID, nil)
	if err != nil {
		s.markCookieState(account, err)
		return nil, err
	}
	s.markCookieState(account, nil)
	return &ConversionResult{
		Items:        fetched.Items,
		Total:        len(fetched.Items),
		TotalCount:   fetched.TotalCount,
		MissingPages: fetched.MissingPages,
	}, nil
}

// SettlementRequest 结算查询请求
type SettlementRequest struct {
	AccountID uint
	StartDate string
	EndDate   string
}

// FetchSettlement 拉取区间内的结算账单
func (s *ReportService) FetchSettlement(ctx context.Context, req SettlementRequest, viewer Viewer) (json.RawMessage, error) {
	startMs, endMs, err := dayRangeMillis(req.StartDate, req.EndDate, s.location)
	if err != nil {
		return nil, err
	}
	account, cookies, err := s.accountCookies(req.AccountID, viewer)
	if err != nil {
		return nil, err
	}
	resp, err := s.billing.FetchBillingList(ctx, cookies, startMs/1000, endMs/1000)
	if err != nil {
		s.markCookieState(account, err)
		return nil, err
	}
	s.markCookieState(account, nil)
	return resp.Raw, nil
}

// SettlementPeriod 结算周期（秒级时间戳）
type SettlementPeriod struct {
	Key            string `json:"key"`
	Name           string `json:"name"`
	StartTimestamp int64  `json:"start_timestamp"`
	EndTimestamp   int64  `json:"end_timestamp"`
}

// SettlementPeriodData 有数据的结算周期
type SettlementPeriodData struct {
	SettlementPeriod
	Data json.RawMessage `json:"data"`
}

// SettlementPeriodsResult 多周期结算结果
type SettlementPeriodsResult struct {
	Periods   []SettlementPeriodData `json:"periods"`
	Requested int                    `json:"requested"`
}

// FetchSettlementPeriods 依次拉取各周期账单
// 跳过尚未结束的周期，仅保留账单列表非空的周期，单周期失败不影响后续
func (s *ReportService) FetchSettlementPeriods(ctx context.Context, accountID uint, periods []SettlementPeriod, viewer Viewer) (*SettlementPeriodsResult, error) {
	if len(periods) == 0 {
		return nil, ErrInvalidPeriods
	}
	account, cookies, err := s.accountCookies(accountID, viewer)
	if err != nil {
		return nil, err
	}
	nowSec := s.now().Unix()
	result := &SettlementPeriodsResult{Periods: make([]SettlementPeriodData, 0), Requested: len(periods)}
	for _, period := range periods {
		if period.EndTimestamp > nowSec {
			logger.Debugw("settlement_period_skip_future", "account_id", accountID, "period", period.Name)
			continue
		}
		resp, err := s.billing.FetchBillingList(ctx, cookies, period.StartTimestamp, period.EndTimestamp)
		if err != nil {
			if errors.Is(err, upstream.ErrUpstreamAuth) || errors.Is(err, upstream.ErrInvalidCookies) {
				s.markCookieState(account, err)
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warnw("settlement_period_fetch_failed", "account_id", accountID, "period", period.Name, "error", err)
			continue
		}
		if resp.ListCount > 0 {
			result.Periods = append(result.Periods, SettlementPeriodData{SettlementPeriod: period, Data: resp.Data})
		}
	}
	s.markCookieState(account, nil)
	return result, nil
}

// accountCookies 加载可见账号并解密 cookies
func (s *ReportService) accountCookies(accountID uint, viewer Viewer) (*models.Account, string, error) {
	account, err := s.accountRepo.GetByID(accountID)
	if err != nil {
		return nil, "", err
	}
	if account == nil {
		return nil, "", ErrAccountNotFound
	}
	if !viewer.CanAccessAccount(account) {
		return nil, "", ErrForbidden
	}
	cookies, err := s.cipher.Decrypt(account.CookiesCipher)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", upstream.ErrInvalidCookies, err)
	}
	return account, cookies, nil
}

// markCookieState 成功时清除失效标记，cookies 类错误时置位
func (s *ReportService) markCookieState(account *models.Account, err error) {
	if account == nil {
		return
	}
	var expired bool
	switch {
	case err == nil:
		expired = false
	case IsCookieExpiryError(err):
		expired = true
	default:
		return
	}
	if account.CookieExpired == expired {
		return
	}
	if updateErr := s.accountRepo.SetCookieExpired(account.ID, expired); updateErr != nil {
		logger.Warnw("account_cookie_state_update_failed", "account_id", account.ID, "expired", expired, "error", updateErr)
		return
	}
	account.CookieExpired = expired
}

// scopedAccounts 按分组与访问范围列出账号
func (s *ReportService) scopedAccounts(groupID uint, viewer Viewer) ([]models.Account, error) {
	if groupID != 0 && !viewer.CanAccessGroup(groupID) {
		return nil, ErrForbidden
	}
	accounts, _, err := s.accountRepo.List(repository.AccountListFilter{
		GroupID:   groupID,
		GroupIDs:  viewer.scopeGroupIDs(),
		WithGroup: true,
	})
	return accounts, err
}
