package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/affdash/internal/logger"
	"github.com/affdash/internal/upstream"

	"golang.org/x/sync/errgroup"
)

const (
	ProgressStart = 20
	ProgressEnd   = 80
)

// PageClient 单页报表拉取
type PageClient interface {
	FetchReportPage(ctx context.Context, cookies string, rangeStartMs, rangeEndMs int64, pageNumber, pageSize int, channelID int64) (*upstream.ReportPage, error)
}

// ProgressFunc 进度回调，取值 20~80
type ProgressFunc func(percent int)

// SleepFunc 可中断的等待
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options 分页抓取参数
type Options struct {
	PageSize       int
	Concurrency    int
	MaxAttempts    int
	RetryDelay     time.Duration
	BatchDelayBase time.Duration
	BatchDelayStep time.Duration
	BatchDelayMax  time.Duration
	Sleep          SleepFunc
}

// Result 抓取结果
type Result struct {
	Items        []upstream.CommissionRecord
	TotalCount   int
	TotalPages   int
	MissingPages []int
}

// Partial 是否有页面因重试耗尽被丢弃
func (r *Result) Partial() bool {
	return r != nil && len(r.MissingPages) > 0
}

// Fetcher 并发分页抓取器
type Fetcher struct {
	client PageClient
	opts   Options
}

// New 创建抓取器，未设置的参数使用默认值
func New(client PageClient, opts Options) *Fetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = upstream.DefaultPageSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.BatchDelayBase <= 0 {
		opts.BatchDelayBase = time.Second
	}
	if opts.BatchDelayStep <= 0 {
		opts.BatchDelayStep = 100 * time.Millisecond
	}
	if opts.BatchDelayMax <= 0 {
		opts.BatchDelayMax = 2 * time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Fetcher{client: client, opts: opts}
}

type pageOutcome struct {
	items []upstream.CommissionRecord
	err   error
}

// FetchAll 拉取时间区间内的全部页面
// 第 1 页失败直接返回错误；后续页面重试耗尽后丢弃并记录在 MissingPages
func (f *Fetcher) FetchAll(ctx context.Context, cookies string, rangeStartMs, rangeEndMs int64, channelID int64, onProgress ProgressFunc) (*Result, error) {
	first, err := f.fetchPage(ctx, cookies, rangeStartMs, rangeEndMs, 1, channelID)
	if err != nil {
		return nil, fmt.Errorf("fetch page 1: %w", err)
	}

	result := &Result{
		Items:      append(make([]upstream.CommissionRecord, 0, first.TotalCount), first.Items...),
		TotalCount: first.TotalCount,
		TotalPages: int(math.Ceil(float64(first.TotalCount) / float64(f.opts.PageSize))),
	}
	logger.Debugw("fetch_first_page_done",
		"total_count", result.TotalCount,
		"total_pages", result.TotalPages,
		"items", len(first.Items),
	)
	if result.TotalPages <= 1 {
		return result, nil
	}

	remaining := make([]int, 0, result.TotalPages-1)
	for page := 2; page <= result.TotalPages; page++ {
		remaining = append(remaining, page)
	}

	for start := 0; start < len(remaining); start += f.opts.Concurrency {
		end := start + f.opts.Concurrency
		if end > len(remaining) {
			end = len(remaining)
		}
		batch := remaining[start:end]

		outcomes, err := f.fetchBatch(ctx, cookies, rangeStartMs, rangeEndMs, channelID, batch)
		if err != nil {
			return nil, err
		}

		for i, page := range batch {
			outcome := outcomes[i]
			if outcome.err != nil {
				result.MissingPages = append(result.MissingPages, page)
				logger.Warnw("fetch_page_dropped", "page", page, "error", outcome.err)
				continue
			}
			if len(outcome.items) == 0 {
				continue
			}
			result.Items = append(result.Items, outcome.items...)
			if onProgress != nil && result.TotalCount > 0 {
				onProgress(scaleProgress(len(result.Items), result.TotalCount))
			}
		}

		if end < len(remaining) {
			if err := f.opts.Sleep(ctx, f.batchDelay(len(batch))); err != nil {
				return nil, err
			}
		}
	}

	if result.Partial() {
		logger.Warnw("fetch_partial_result",
			"missing_pages", result.MissingPages,
			"items", len(result.Items),
			"total_count", result.TotalCount,
		)
	}
	return result, nil
}

// fetchBatch 并发拉取一批页面，按批次顺序返回结果
// 鉴权类错误会终止整个抓取
func (f *Fetcher) fetchBatch(ctx context.Context, cookies string, rangeStartMs, rangeEndMs int64, channelID int64, batch []int) ([]pageOutcome, error) {
	outcomes := make([]pageOutcome, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, page := range batch {
		g.Go(func() error {
			resp, err := f.fetchPage(gctx, cookies, rangeStartMs, rangeEndMs, page, channelID)
			if err != nil {
				if upstream.IsAuthError(err) {
					return fmt.Errorf("fetch page %d: %w", page, err)
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				outcomes[i] = pageOutcome{err: err}
				return nil
			}
			outcomes[i] = pageOutcome{items: resp.Items}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// fetchPage 单页重试，第 n 次失败后等待 RetryDelay*n
func (f *Fetcher) fetchPage(ctx context.Context, cookies string, rangeStartMs, rangeEndMs int64, page int, channelID int64) (*upstream.ReportPage, error) {
	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		resp, err := f.client.FetchReportPage(ctx, cookies, rangeStartMs, rangeEndMs, page, f.opts.PageSize, channelID)
		if err == nil && resp != nil && resp.Code != 0 {
			err = &upstream.APIError{Code: resp.Code, Message: resp.Message}
		}
		if err == nil && resp != nil {
			return resp, nil
		}
		if err == nil {
			err = upstream.ErrResponseInvalid
		}
		lastErr = err
		if upstream.IsAuthError(err) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, err
		}
		logger.Warnw("fetch_page_retry",
			"page", page,
			"attempt", attempt,
			"max_attempts", f.opts.MaxAttempts,
			"error", err,
		)
		if attempt < f.opts.MaxAttempts {
			if sleepErr := f.opts.Sleep(ctx, f.opts.RetryDelay*time.Duration(attempt)); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}
	return nil, fmt.Errorf("page %d failed after %d attempts: %w", page, f.opts.MaxAttempts, lastErr)
}

func (f *Fetcher) batchDelay(batchSize int) time.Duration {
	d := f.opts.BatchDelayBase + time.Duration(batchSize)*f.opts.BatchDelayStep
	if d > f.opts.BatchDelayMax {
		return f.opts.BatchDelayMax
	}
	return d
}

// scaleProgress 将已获取条数映射到 20~80 区间
func scaleProgress(items, total int) int {
	p := ProgressStart + int(math.Round(float64(items)/float64(total)*float64(ProgressEnd-ProgressStart)))
	if p > ProgressEnd {
		return ProgressEnd
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
