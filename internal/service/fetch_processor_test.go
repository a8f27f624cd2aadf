package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/affdash/internal/queue"
	"github.com/affdash/internal/reportcache"
	"github.com/affdash/internal/upstream"
)

func TestProcessAccountFetchWritesCacheAndReportsCheckpoints(t *testing.T) {
	env := setupServiceTest(t)
	group := env.seedGroup(t, "north")
	account := env.seedAccount(t, 1001, "alice", group.ID, "cookie-a")

	pages := newFakePages()
	pages.items["cookie-a"] = []upstream.CommissionRecord{
		record(1, 100, 1000, "mcn", "1500"),
		record(2, 200, 2000, "", ""),
		record(3, 300, 3000, "", ""),
	}
	processor := NewFetchProcessor(env.accountRepo, env.cipher, newTestFetcher(pages), env.cache, testLocation)

	stale := &reportcache.Record{Data: []upstream.CommissionRecord{record(1, 1, 1, "", "")}}
	if err := env.cache.Write(context.Background(), 1001, "2024-01-01", "2024-01-02", stale); err != nil {
		t.Fatalf("seed stale cache failed: %v", err)
	}

	var progress []int
	result, err := processor.ProcessAccountFetch(context.Background(), account, "2024-03-01", "2024-03-31", 0, func(p int) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Success || result.TotalItems != 3 || result.TotalCount != 3 || result.PartialFailure {
		t.Fatalf("unexpected result: %+v", result)
	}

	want := []int{5, 10, 20, 80, 90, 100}
	idx := 0
	for _, p := range progress {
		if idx < len(want) && p == want[idx] {
			idx++
		}
	}
	if idx != len(want) {
		t.Fatalf("checkpoints missing, got %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}

	cached, err := env.cache.Read(context.Background(), 1001, "2024-03-01", "2024-03-31")
	if err != nil || cached == nil {
		t.Fatalf("cache not written: %v", err)
	}
	if len(cached.Data) != 3 || cached.Params.StartDate != "2024-03-01" {
		t.Fatalf("unexpected cached record: %+v", cached.Params)
	}
	old, err := env.cache.Read(context.Background(), 1001, "2024-01-01", "2024-01-02")
	if err != nil || old != nil {
		t.Fatalf("older range should be cleared, got %v err=%v", old, err)
	}
}

func TestProcessAccountFetchMarksCookieExpiredOnAuthError(t *testing.T) {
	env := setupServiceTest(t)
	group := env.seedGroup(t, "north")
	account := env.seedAccount(t, 1002, "bob", group.ID, "cookie-b")

	pages := newFakePages()
	pages.authErr["cookie-b"] = true
	processor := NewFetchProcessor(env.accountRepo, env.cipher, newTestFetcher(pages), env.cache, testLocation)

	_, err := processor.ProcessAccountFetch(context.Background(), account, "2024-03-01", "2024-03-31", 0, nil)
	if !errors.Is(err, upstream.ErrUpstreamAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if !env.reloadAccount(t, account.ID).CookieExpired {
		t.Fatalf("account should be flagged as cookie expired")
	}
}

func TestProcessAccountFetchRejectsExpiredAccountWithoutCalls(t *testing.T) {
	env := setupServiceTest(t)
	group := env.seedGroup(t, "north")
	account := env.seedAccount(t, 1003, "carol", group.ID, "cookie-c")
	if err := env.accountRepo.SetCookieExpired(account.ID, true); err != nil {
		t.Fatalf("set expired failed: %v", err)
	}
	account.CookieExpired = true

	pages := newFakePages()
	processor := NewFetchProcessor(env.accountRepo, env.cipher, newTestFetcher(pages), env.cache, testLocation)
	var last int
	_, err := processor.ProcessAccountFetch(context.Background(), account, "2024-03-01", "2024-03-31", 0, func(p int) { last = p })
	if !errors.Is(err, ErrCookieExpired) {
		t.Fatalf("expected ErrCookieExpired, got %v", err)
	}
	if pages.calls != 0 {
		t.Fatalf("upstream should not be called, calls=%d", pages.calls)
	}
	if last != 5 {
		t.Fatalf("progress should stop at 5, got %d", last)
	}
}

func TestProcessAccountFetchEmptyCookiesFlagsExpiry(t *testing.T) {
	env := setupServiceTest(t)
	group := env.seedGroup(t, "north")
	account := env.seedAccount(t, 1004, "dave", group.ID, "")

	pages := newFakePages()
	processor := NewFetchProcessor(env.accountRepo, env.cipher, newTestFetcher(pages), env.cache, testLocation)
	_, err := processor.ProcessAccountFetch(context.Background(), account, "2024-03-01", "2024-03-31", 0, nil)
	if !errors.Is(err, upstream.ErrInvalidCookies) {
		t.Fatalf("expected ErrInvalidCookies, got %v", err)
	}
	if pages.calls != 0 {
		t.Fatalf("upstream should not be called, calls=%d", pages.calls)
	}
	if !env.reloadAccount(t, account.ID).CookieExpired {
		t.Fatalf("account should be flagged as cookie expired")
	}
}

func TestProcessAccountFetchSucceedsWithMissingPage(t *testing.T) {
	env := setupServiceTest(t)
	group := env.seedGroup(t, "north")
	account := env.seedAccount(t, 1005, "erin", group.ID, "cookie-e")

	pages := newFakePages()
	for i := int64(1); i <= 5; i++ {
		pages.items["cookie-e"] = append(pages.items["cookie-e"], record(1, i, i*10, "", ""))
	}
	// 每页 2 条，共 3 页；第 2 页重试耗尽后丢弃
	pages.failPages[2] = true
	processor := NewFetchProcessor(env.accountRepo, env.cipher, newTestFetcher(pages), env.cache, testLocation)

	result, err := processor.ProcessAccountFetch(context.Background(), account, "2024-03-01", "2024-03-31", 0, nil)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Success || result.TotalItems != 3 || result.TotalCount != 5 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !result.PartialFailure || len(result.MissingPages) != 1 || result.MissingPages[0] != 2 {
		t.Fatalf("missing page not reported: %+v", result)
	}
	cached, err := env.cache.Read(context.Background(), 1005, "2024-03-01", "2024-03-31")
	if err != nil || cached == nil || len(cached.Data) != 3 {
		t.Fatalf("cache should hold the reduced item list: %+v err=%v", cached, err)
	}
}

func TestProcessAccountFetchNormalizesDatesBeforeTouchingCache(t *testing.T) {
	env := setupServiceTest(t)
	group := env.seedGroup(t, "north")
	account := env.seedAccount(t, 1006, "frank", group.ID, "cookie-f")

	pages := newFakePages()
	pages.items["cookie-f"] = []upstream.CommissionRecord{record(1, 10, 100, "", "")}
	processor := NewFetchProcessor(env.accountRepo, env.cipher, newTestFetcher(pages), env.cache, testLocation)

	prior := &reportcache.Record{Data: []upstream.CommissionRecord{record(1, 1, 1, "", "")}}
	if err := env.cache.Write(context.Background(), 1006, "2024-01-01", "2024-01-02", prior); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}

	if _, err := processor.ProcessAccountFetch(context.Background(), account, " 2024-03-01", "2024-03-02 ", 0, nil); err != nil {
		t.Fatalf("padded dates should be accepted, got %v", err)
	}
	cached, err := env.cache.Read(context.Background(), 1006, "2024-03-01", "2024-03-02")
	if err != nil || cached == nil || cached.Params.StartDate != "2024-03-01" {
		t.Fatalf("cache should be keyed by trimmed dates: %+v err=%v", cached, err)
	}

	// 外部 ID 非法时在抓取与清理前失败，已有缓存保留
	account.ExternalUserID = 0
	calls := pages.calls
	if _, err := processor.ProcessAccountFetch(context.Background(), account, "2024-04-01", "2024-04-02", 0, nil); !errors.Is(err, reportcache.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if pages.calls != calls {
		t.Fatalf("upstream should not be called for an invalid key")
	}
	if ok, err := env.cache.Exists(context.Background(), 1006, "2024-03-01", "2024-03-02"); err != nil || !ok {
		t.Fatalf("existing cache should survive, ok=%v err=%v", ok, err)
	}
}

func TestProcessFetchJobMissingAccount(t *testing.T) {
	env := setupServiceTest(t)
	processor := NewFetchProcessor(env.accountRepo, env.cipher, newTestFetcher(newFakePages()), env.cache, testLocation)
	_, err := processor.ProcessFetchJob(context.Background(), queue.FetchPayload{JobID: "j-1", AccountID: 999}, nil)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestIsCookieExpiryError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{upstream.ErrInvalidCookies, true},
		{&upstream.UpstreamError{Status: 403}, true},
		{&upstream.UpstreamError{Status: 500}, false},
		{ErrCookieExpired, true},
		{upstream.ErrNetworkTimeout, false},
		{errors.New("cookie text but not typed"), false},
	}
	for _, tc := range cases {
		if got := IsCookieExpiryError(tc.err); got != tc.want {
			t.Fatalf("IsCookieExpiryError(%v)=%v want %v", tc.err, got, tc.want)
		}
	}
}

func TestDayRangeMillis(t *testing.T) {
	start, end, err := dayRangeMillis("2024-03-01", "2024-03-02", testLocation)
	if err != nil {
		t.Fatalf("day range failed: %v", err)
	}
	wantStart := time.Date(2024, 3, 1, 0, 0, 0, 0, testLocation).UnixMilli()
	wantEnd := time.Date(2024, 3, 2, 23, 59, 59, int(999*time.Millisecond), testLocation).UnixMilli()
	if start != wantStart || end != wantEnd {
		t.Fatalf("unexpected range %d..%d want %d..%d", start, end, wantStart, wantEnd)
	}
	if _, _, err := dayRangeMillis("2024-03-02", "2024-03-01", testLocation); !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange for reversed range, got %v", err)
	}
	if _, _, err := dayRangeMillis("03/01/2024", "2024-03-01", testLocation); !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange for bad layout, got %v", err)
	}
}
