package fetcher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/affdash/internal/upstream"
)

type fakeClient struct {
	mu         sync.Mutex
	totalCount int
	pageSize   int
	failPages  map[int]int // page -> 失败次数，-1 表示一直失败
	authPage   int
	calls      map[int]int
	inFlight   int
	maxFlight  int
}

func newFakeClient(total, pageSize int) *fakeClient {
	return &fakeClient{
		totalCount: total,
		pageSize:   pageSize,
		failPages:  map[int]int{},
		calls:      map[int]int{},
	}
}

func (c *fakeClient) FetchReportPage(ctx context.Context, cookies string, startMs, endMs int64, page, size int, channelID int64) (*upstream.ReportPage, error) {
	c.mu.Lock()
	c.calls[page]++
	call := c.calls[page]
	c.inFlight++
	if c.inFlight > c.maxFlight {
		c.maxFlight = c.inFlight
	}
	c.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()

	if page == c.authPage {
		return nil, &upstream.UpstreamError{Status: 401, Message: "expired"}
	}
	if n, ok := c.failPages[page]; ok && (n < 0 || call <= n) {
		return nil, upstream.ErrNetworkTimeout
	}

	count := c.pageSize
	if remaining := c.totalCount - (page-1)*c.pageSize; remaining < count {
		count = remaining
	}
	if count < 0 {
		count = 0
	}
	items := make([]upstream.CommissionRecord, count)
	for i := range items {
		items[i] = upstream.CommissionRecord{CheckoutID: int64((page-1)*c.pageSize + i)}
	}
	return &upstream.ReportPage{TotalCount: c.totalCount, PageNumber: page, PageSize: size, Items: items}, nil
}

func (c *fakeClient) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func newTestFetcher(client PageClient, pageSize int, sleeps *recordedSleeps) *Fetcher {
	return New(client, Options{PageSize: pageSize, Sleep: sleeps.sleep})
}

func TestFetchAllIssuesCeilPages(t *testing.T) {
	client := newFakeClient(1200, 500)
	sleeps := &recordedSleeps{}
	f := newTestFetcher(client, 500, sleeps)

	var progress []int
	result, err := f.FetchAll(context.Background(), "c=1", 0, 1000, 0, func(p int) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("fetch all failed: %v", err)
	}
	if client.totalCalls() != 3 {
		t.Fatalf("expected 3 page requests, got %d", client.totalCalls())
	}
	if len(result.Items) != 1200 || result.TotalCount != 1200 || result.TotalPages != 3 {
		t.Fatalf("unexpected result: items=%d total=%d pages=%d", len(result.Items), result.TotalCount, result.TotalPages)
	}
	for i, item := range result.Items {
		if item.CheckoutID != int64(i) {
			t.Fatalf("items should be merged in page order, index %d has %d", i, item.CheckoutID)
		}
	}
	if len(progress) != 2 || progress[0] != 70 || progress[1] != 80 {
		t.Fatalf("unexpected progress: %v", progress)
	}
	if len(sleeps.delays) != 0 {
		t.Fatalf("single batch should not wait, got %v", sleeps.delays)
	}
}

func TestFetchAllZeroTotal(t *testing.T) {
	client := newFakeClient(0, 500)
	f := newTestFetcher(client, 500, &recordedSleeps{})
	result, err := f.FetchAll(context.Background(), "c=1", 0, 1000, 0, nil)
	if err != nil {
		t.Fatalf("fetch all failed: %v", err)
	}
	if len(result.Items) != 0 || client.totalCalls() != 1 {
		t.Fatalf("expected empty result after one call, got items=%d calls=%d", len(result.Items), client.totalCalls())
	}
}

func TestFetchAllBoundsConcurrencyAndBatchDelay(t *testing.T) {
	client := newFakeClient(12*10, 10) // 12 页
	sleeps := &recordedSleeps{}
	f := newTestFetcher(client, 10, sleeps)

	result, err := f.FetchAll(context.Background(), "c=1", 0, 1000, 0, nil)
	if err != nil {
		t.Fatalf("fetch all failed: %v", err)
	}
	if len(result.Items) != 120 {
		t.Fatalf("unexpected item count: %d", len(result.Items))
	}
	if client.maxFlight > 5 {
		t.Fatalf("concurrency exceeded: %d", client.maxFlight)
	}
	// 剩余 11 页分为 5,5,1 三批，批间等待两次
	if len(sleeps.delays) != 2 || sleeps.delays[0] != 1500*time.Millisecond || sleeps.delays[1] != 1500*time.Millisecond {
		t.Fatalf("unexpected batch delays: %v", sleeps.delays)
	}
}

func TestFetchAllRetriesThenSucceeds(t *testing.T) {
	client := newFakeClient(1000, 500)
	client.failPages[2] = 2
	sleeps := &recordedSleeps{}
	f := newTestFetcher(client, 500, sleeps)

	result, err := f.FetchAll(context.Background(), "c=1", 0, 1000, 0, nil)
	if err != nil {
		t.Fatalf("fetch all failed: %v", err)
	}
	if len(result.Items) != 1000 || result.Partial() {
		t.Fatalf("expected full result, got items=%d missing=%v", len(result.Items), result.MissingPages)
	}
	if client.calls[2] != 3 {
		t.Fatalf("page 2 should be attempted 3 times, got %d", client.calls[2])
	}
	if len(sleeps.delays) != 2 || sleeps.delays[0] != 2*time.Second || sleeps.delays[1] != 4*time.Second {
		t.Fatalf("unexpected retry delays: %v", sleeps.delays)
	}
}

func TestFetchAllDropsExhaustedPage(t *testing.T) {
	client := newFakeClient(2500, 500)
	client.failPages[3] = -1
	f := newTestFetcher(client, 500, &recordedSleeps{})

	result, err := f.FetchAll(context.Background(), "c=1", 0, 1000, 0, nil)
	if err != nil {
		t.Fatalf("partial loss must not fail the fetch: %v", err)
	}
	if len(result.Items) != 2000 {
		t.Fatalf("expected 2000 items, got %d", len(result.Items))
	}
	if len(result.MissingPages) != 1 || result.MissingPages[0] != 3 {
		t.Fatalf("unexpected missing pages: %v", result.MissingPages)
	}
	if client.calls[3] != 3 {
		t.Fatalf("failing page should use all attempts, got %d", client.calls[3])
	}
}

func TestFetchAllFirstPageFailureIsFatal(t *testing.T) {
	client := newFakeClient(1000, 500)
	client.failPages[1] = -1
	f := newTestFetcher(client, 500, &recordedSleeps{})

	if _, err := f.FetchAll(context.Background(), "c=1", 0, 1000, 0, nil); !errors.Is(err, upstream.ErrNetworkTimeout) {
		t.Fatalf("expected wrapped timeout, got %v", err)
	}
	if client.calls[1] != 3 || client.totalCalls() != 3 {
		t.Fatalf("only page 1 should be attempted: %v", client.calls)
	}
}

func TestFetchAllAuthErrorNotRetried(t *testing.T) {
	client := newFakeClient(2000, 500)
	client.authPage = 3
	f := newTestFetcher(client, 500, &recordedSleeps{})

	_, err := f.FetchAll(context.Background(), "c=1", 0, 1000, 0, nil)
	if !errors.Is(err, upstream.ErrUpstreamAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if client.calls[3] != 1 {
		t.Fatalf("auth errors must not be retried, got %d calls", client.calls[3])
	}
}

func TestScaleProgress(t *testing.T) {
	cases := map[[2]int]int{
		{0, 100}:   20,
		{50, 100}:  50,
		{100, 100}: 80,
		{150, 100}: 80,
	}
	keys := make([][2]int, 0, len(cases))
	for k := range cases {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i][0] < keys[j][0] })
	for _, k := range keys {
		if got := scaleProgress(k[0], k[1]); got != cases[k] {
			t.Fatalf("scaleProgress(%d,%d)=%d, want %d", k[0], k[1], got, cases[k])
		}
	}
}
