package service

import (
	"context"
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

// FetchResult 单账号抓取结果
type FetchResult struct {
	AccountID      uint   `json:"account_id"`
	ExternalUserID int64  `json:"external_user_id"`
	UserName       string `json:"user_name"`
	Success        bool   `json:"success"`
	TotalItems     int    `json:"total_items"`
	TotalCount     int    `json:"total_count"`
	PartialFailure bool   `json:"partial_failure"`
	MissingPages   []int  `json:"missing_pages,omitempty"`
}

// FetchProcessor 单账号报表抓取流程
type FetchProcessor struct {
	accountRepo repository.AccountRepository
	cipher      *cookiecrypt.Cipher
	fetcher     *fetcher.Fetcher
	cache       reportcache.Store
	location    *time.Location
}

// NewFetchProcessor 创建抓取处理器
func NewFetchProcessor(accountRepo repository.AccountRepository, cipher *cookiecrypt.Cipher, f *fetcher.Fetcher, cache reportcache.Store, location *time.Location) *FetchProcessor {
	if location == nil {
		location = time.UTC
	}
	return &FetchProcessor{
		accountRepo: accountRepo,
		cipher:      cipher,
		fetcher:     f,
		cache:       cache,
		location:    location,
	}
}

// IsCookieExpiryError 错误是否意味着账号 cookies 已不可用
func IsCookieExpiryError(err error) bool {
	return errors.Is(err, upstream.ErrInvalidCookies) ||
		errors.Is(err, upstream.ErrUpstreamAuth) ||
		errors.Is(err, ErrCookieExpired)
}

// ProcessFetchJob 队列任务入口
func (p *FetchProcessor) ProcessFetchJob(ctx context.Context, payload queue.FetchPayload, progress queue.ProgressFunc) (interface{}, error) {
	account, err := p.accountRepo.GetByID(payload.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: id %d", ErrAccountNotFound, payload.AccountID)
	}
	return p.ProcessAccountFetch(ctx, account, payload.StartDate, payload.EndDate, payload.ChannelID, progress)
}

// ProcessAccountFetch 抓取区间内全部分页并写入缓存
// 进度检查点：5 → 10 → 20 → (20-80) → 80 → 90 → 100
func (p *FetchProcessor) ProcessAccountFetch(ctx context.Context, account *models.Account, startDate, endDate string, channelID int64, report queue.ProgressFunc) (*FetchResult, error) {
	if report == nil {
		report = func(int) {}
	}
	startDate, endDate = strings.TrimSpace(startDate), strings.TrimSpace(endDate)
	log := logger.SW("account_id", account.ID, "external_user_id", account.ExternalUserID, "user_name", account.UserName)

	result, err := p.process(ctx, account, startDate, endDate, channelID, report)
	if err != nil {
		log.Warnw("account_fetch_failed", "start_date", startDate, "end_date", endDate, "error", err)
		if IsCookieExpiryError(err) && !account.CookieExpired {
			if markErr := p.accountRepo.SetCookieExpired(account.ID, true); markErr != nil {
				log.Warnw("account_mark_cookie_expired_failed", "error", markErr)
			} else {
				account.CookieExpired = true
				log.Infow("account_cookie_marked_expired")
			}
		}
		return nil, err
	}
	log.Infow("account_fetch_completed",
		"total_items", result.TotalItems,
		"total_count", result.TotalCount,
		"missing_pages", result.MissingPages,
	)
	return result, nil
}

func (p *FetchProcessor) process(ctx context.Context, account *models.Account, startDate, endDate string, channelID int64, report queue.ProgressFunc) (*FetchResult, error) {
	report(constants.ProgressStarted)

	cookies, err := p.cipher.Decrypt(account.CookiesCipher)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", upstream.ErrInvalidCookies, err)
	}
	if strings.TrimSpace(cookies) == "" {
		return nil, upstream.ErrInvalidCookies
	}
	if account.CookieExpired {
		return nil, ErrCookieExpired
	}
	report(constants.ProgressCookiesValid)

	startMs, endMs, err := dayRangeMillis(startDate, endDate, p.location)
	if err != nil {
		return nil, err
	}
	// 缓存键在抓取与清理之前校验，避免旧报表被删后写入失败
	if _, err := reportcache.NewKey(account.ExternalUserID, startDate, endDate); err != nil {
		return nil, fmt.Errorf("report cache key: %w", err)
	}
	report(constants.ProgressFetchStarted)

	fetched, err := p.fetcher.FetchAll(ctx, cookies, startMs, endMs, channelID, fetcher.ProgressFunc(report))
	if err != nil {
		return nil, err
	}
	report(constants.ProgressFetchFinished)

	if err := p.cache.DeleteAllForUser(ctx, account.ExternalUserID); err != nil {
		return nil, fmt.Errorf("clear report cache: %w", err)
	}
	report(constants.ProgressCacheCleared)

	record := &reportcache.Record{
		Data:   fetched.Items,
		Params: reportcache.Params{StartDate: startDate, EndDate: endDate, ChannelID: channelID},
	}
	if err := p.cache.Write(ctx, account.ExternalUserID, startDate, endDate, record); err != nil {
		return nil, fmt.Errorf("write report cache: %w", err)
	}

	if account.CookieExpired {
		if err := p.accountRepo.SetCookieExpired(account.ID, false); err != nil {
			return nil, err
		}
		account.CookieExpired = false
	}
	report(constants.ProgressDone)

	return &FetchResult{
		AccountID:      account.ID,
		ExternalUserID: account.ExternalUserID,
		UserName:       account.UserName,
		Success:        true,
		TotalItems:     len(fetched.Items),
		TotalCount:     fetched.TotalCount,
		PartialFailure: fetched.Partial(),
		MissingPages:   fetched.MissingPages,
	}, nil
}

// dayRangeMillis 起始日 00:00:00.000 到结束日 23:59:59.999（按给定时区）
func dayRangeMillis(startDate, endDate string, loc *time.Location) (int64, int64, error) {
	start, err := time.ParseInLocation(constants.DateLayout, strings.TrimSpace(startDate), loc)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: start date %q", ErrInvalidDateRange, startDate)
	}
	end, err := time.ParseInLocation(constants.DateLayout, strings.TrimSpace(endDate), loc)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: end date %q", ErrInvalidDateRange, endDate)
	}
	if end.Before(start) {
		return 0, 0, fmt.Errorf("%w: end before start", ErrInvalidDateRange)
	}
	endOfDay := end.AddDate(0, 0, 1).Add(-time.Millisecond)
	return start.UnixMilli(), endOfDay.UnixMilli(), nil
}
