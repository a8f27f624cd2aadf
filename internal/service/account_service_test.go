package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/affdash/internal/reportcache"
	"github.com/affdash/internal/upstream"
)

func TestAccountServiceAddChecksCookies(t *testing.T) {
	env := setupServiceTest(t)
	group := env.seedGroup(t, "north")
	svc := NewAccountService(env.accountRepo, env.groupRepo, env.cipher, fakeTester{valid: map[string]bool{"good": true}}, env.cache)

	ok, err := svc.Add(context.Background(), AddAccountInput{ExternalUserID: 1, UserName: "alice", Cookies: "good", GroupID: group.ID})
	if err != nil {
		t.Fatalf("add account failed: %v", err)
	}
	if ok.CookieExpired {
		t.Fatalf("valid cookies should not be flagged")
	}
	if ok.CookiesCipher == "good" {
		t.Fatalf("cookies must be stored encrypted")
	}
	bad, err := svc.Add(context.Background(), AddAccountInput{ExternalUserID: 2, UserName: "bob", Cookies: "stale", GroupID: group.ID})
	if err != nil {
		t.Fatalf("add account failed: %v", err)
	}
	if !bad.CookieExpired {
		t.Fatalf("invalid cookies should be flagged")
	}

	if _, err := svc.Add(context.Background(), AddAccountInput{ExternalUserID: 1, UserName: "dup", Cookies: "good", GroupID: group.ID}); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if _, err := svc.Add(context.Background(), AddAccountInput{ExternalUserID: 3, UserName: "x", Cookies: "good", GroupID: 999}); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
	if _, err := svc.Add(context.Background(), AddAccountInput{ExternalUserID: 3, UserName: "x", GroupID: group.ID}); !errors.Is(err, ErrCookiesRequired) {
		t.Fatalf("expected ErrCookiesRequired, got %v", err)
	}

	updated, err := svc.UpdateCookies(context.Background(), bad.ID, "good", adminViewer())
	if err != nil {
		t.Fatalf("update cookies failed: %v", err)
	}
	if updated.CookieExpired || env.reloadAccount(t, bad.ID).CookieExpired {
		t.Fatalf("updated cookies should clear the flag")
	}

	result, err := svc.TestCookies(context.Background(), ok.ID, adminViewer())
	if err != nil || !result.CookieValid {
		t.Fatalf("test cookies failed: %+v %v", result, err)
	}
}

func TestAccountServiceScopeAndDelete(t *testing.T) {
	env := setupServiceTest(t)
	north := env.seedGroup(t, "north")
	south := env.seedGroup(t, "south")
	alice := env.seedAccount(t, 61, "alice", north.ID, "c1")
	bob := env.seedAccount(t, 62, "bob", south.ID, "c2")
	svc := NewAccountService(env.accountRepo, env.groupRepo, env.cipher, fakeTester{}, env.cache)

	list, total, err := svc.List(AccountListQuery{}, userViewer(north.ID))
	if err != nil || total != 1 || list[0].ID != alice.ID {
		t.Fatalf("scoped list wrong: total=%d err=%v", total, err)
	}
	if _, err := svc.Get(bob.ID, userViewer(north.ID)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	moved, err := svc.ChangeGroup(bob.ID, north.ID)
	if err != nil || moved.GroupID != north.ID {
		t.Fatalf("change group failed: %v", err)
	}

	rec := &reportcache.Record{Data: []upstream.CommissionRecord{record(1, 1, 1, "", "")}}
	if err := env.cache.Write(context.Background(), alice.ExternalUserID, "2024-03-01", "2024-03-02", rec); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}
	if err := svc.Delete(context.Background(), alice.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if ok, _ := env.cache.Exists(context.Background(), alice.ExternalUserID, "2024-03-01", "2024-03-02"); ok {
		t.Fatalf("cache should be removed with the account")
	}
	if err := svc.Delete(context.Background(), alice.ID); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGroupServiceDeleteRequiresEmptyGroup(t *testing.T) {
	env := setupServiceTest(t)
	svc := NewGroupService(env.groupRepo, env.accountRepo)

	group, err := svc.Create(" north ", "main team")
	if err != nil {
		t.Fatalf("create group failed: %v", err)
	}
	if group.Name != "north" {
		t.Fatalf("name not trimmed: %q", group.Name)
	}
	if _, err := svc.Create("north", ""); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("expected ErrGroupExists, got %v", err)
	}
	account := env.seedAccount(t, 71, "alice", group.ID, "c")
	if err := svc.Delete(group.ID); !errors.Is(err, ErrGroupNotEmpty) {
		t.Fatalf("expected ErrGroupNotEmpty, got %v", err)
	}
	accounts, err := svc.Accounts(group.ID, userViewer(group.ID))
	if err != nil || len(accounts) != 1 || accounts[0].ID != account.ID {
		t.Fatalf("group accounts wrong: %v", err)
	}
	if _, err := svc.Accounts(group.ID, userViewer()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := env.accountRepo.Delete(account.ID); err != nil {
		t.Fatalf("delete account failed: %v", err)
	}
	if err := svc.Delete(group.ID); err != nil {
		t.Fatalf("delete empty group failed: %v", err)
	}
}

type fakeSessions struct {
	list   *upstream.CreatorResponse
	detail *upstream.CreatorResponse
	err    error
}

func (f fakeSessions) FetchSessionList(context.Context, string, int, int) (*upstream.CreatorResponse, error) {
	return f.list, f.err
}

func (f fakeSessions) FetchSessionDetail(context.Context, string, string) (*upstream.CreatorResponse, error) {
	return f.detail, f.err
}

func TestSessionServiceTogglesCookieFlag(t *testing.T) {
	env := setupServiceTest(t)
	group := env.seedGroup(t, "north")
	account := env.seedAccount(t, 81, "alice", group.ID, "c")

	rejected := NewSessionService(env.accountRepo, env.cipher, fakeSessions{list: &upstream.CreatorResponse{Code: 7, Message: "need login"}})
	_, err := rejected.List(context.Background(), account.ID, 1, 10, adminViewer())
	var rejectedErr *RejectedError
	if !errors.As(err, &rejectedErr) || rejectedErr.Code != 7 || !errors.Is(err, ErrUpstreamRejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if !env.reloadAccount(t, account.ID).CookieExpired {
		t.Fatalf("rejected call should flag cookies expired")
	}

	ok := NewSessionService(env.accountRepo, env.cipher, fakeSessions{list: &upstream.CreatorResponse{
		Data: json.RawMessage(`{"total":12,"list":[{"sessionId":"s1"}]}`),
	}})
	list, err := ok.List(context.Background(), account.ID, 2, 5, adminViewer())
	if err != nil {
		t.Fatalf("list sessions failed: %v", err)
	}
	if list.Total != 12 || list.Page != 2 || list.Limit != 5 || string(list.Sessions) != `[{"sessionId":"s1"}]` {
		t.Fatalf("unexpected session list: %+v", list)
	}
	if env.reloadAccount(t, account.ID).CookieExpired {
		t.Fatalf("successful call should clear the flag")
	}

	broken := NewSessionService(env.accountRepo, env.cipher, fakeSessions{err: upstream.ErrNetworkTimeout})
	if _, err := broken.Detail(context.Background(), account.ID, "s1", adminViewer()); !errors.Is(err, upstream.ErrNetworkTimeout) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !env.reloadAccount(t, account.ID).CookieExpired {
		t.Fatalf("transport error should flag cookies expired")
	}
}

func TestBuildSessionDetail(t *testing.T) {
	now := time.Unix(10_000, 0)
	raw := json.RawMessage(`{"status":1,"views":30,"avgViewTime":3725000,"engagementData":{"likes":4,"comments":2},"placedGmv":12.5,"ccu":9}`)
	detail := buildSessionDetail("abc", raw, now)
	if detail.BasicInfo.Title != "Phiên livestream #abc" || detail.BasicInfo.EndTime == nil || *detail.BasicInfo.EndTime != 10_000 {
		t.Fatalf("unexpected basic info: %+v", detail.BasicInfo)
	}
	if detail.BasicInfo.StartTime != 10_000-3725 {
		t.Fatalf("unexpected start time: %d", detail.BasicInfo.StartTime)
	}
	if detail.FormattedAvgViewTime != "01:02:05" {
		t.Fatalf("unexpected formatted time: %s", detail.FormattedAvgViewTime)
	}
	if detail.ViewCount != 30 || detail.LikeCount != 4 || detail.CommentCount != 2 || detail.GMV != 12.5 || detail.LiveViewers != 9 {
		t.Fatalf("unexpected metrics: %+v", detail)
	}
	if string(detail.RawData) != string(raw) {
		t.Fatalf("raw data not passed through")
	}
}
