package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const reportFixture = `{
  "code": 0,
  "msg": "success",
  "data": {
    "page_num": 1,
    "page_size": 500,
    "total_count": 4,
    "list": [
      {
        "checkout_id": 9001,
        "checkout_status": "Completed",
        "purchase_time": 1717200000,
        "affiliate_net_commission": "1250000",
        "mcn_management_fee_commission": 50000,
        "linked_mcn_name": "Alpha MCN",
        "linked_mcn_commission_rate": "1500",
        "orders": [
          {"display_order_status": 1, "items": [{"actual_amount": 10000000, "channel": 3}, {"actual_amount": "5000000"}]},
          {"display_order_status": 2, "items": [{"actual_amount": 149999}]}
        ]
      },
      {
        "checkout_id": 9002,
        "checkout_status": "Invalid",
        "orders": [{"display_order_status": 1, "items": [{"actual_amount": 100000}]}]
      },
      {
        "checkout_id": 9003,
        "checkout_status": "Pending",
        "orders": [{"display_order_status": 1, "items": []}, {"display_order_status": 4, "items": []}]
      },
      {
        "checkout_id": 9004,
        "checkout_status": "Pending",
        "orders": []
      }
    ]
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, authCodes ...int64) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Options{
		AffiliateBaseURL: server.URL + "/api",
		CreatorBaseURL:   server.URL + "/supply/api",
		Timeout:          2 * time.Second,
		Location:         time.FixedZone("UTC+7", 7*3600),
		AuthErrorCodes:   authCodes,
	})
}

func TestFetchReportPageNormalizesItems(t *testing.T) {
	var gotQuery map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/report/list" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Cookie") != "SPC_EC=abc" {
			t.Errorf("cookie header not forwarded: %q", r.Header.Get("Cookie"))
		}
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		_, _ = w.Write([]byte(reportFixture))
	})

	page, err := client.FetchReportPage(context.Background(), " SPC_EC=abc ", 1717174800999, 1717261199999, 1, 500, 3)
	if err != nil {
		t.Fatalf("fetch page failed: %v", err)
	}
	if gotQuery["purchase_time_s"] != "1717174800" || gotQuery["purchase_time_e"] != "1717261199" {
		t.Fatalf("unexpected time range: %v", gotQuery)
	}
	if gotQuery["aff_channel_id"] != "3" || gotQuery["version"] != "1" || gotQuery["page_num"] != "1" {
		t.Fatalf("unexpected query: %v", gotQuery)
	}
	if page.TotalCount != 4 || page.Message != "success" {
		t.Fatalf("unexpected envelope: %+v", page)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 normalized item, got %d", len(page.Items))
	}
	item := page.Items[0]
	if item.CheckoutID != 9001 {
		t.Fatalf("unexpected checkout id: %d", item.CheckoutID)
	}
	// (10000000 + 5000000 + 149999) / 100000 = 151.49999 -> 151
	if item.ActualAmount != 151 {
		t.Fatalf("unexpected actual amount: %d", item.ActualAmount)
	}
	if item.AffiliateNetCommission != 13 || item.McnManagementFeeCommission != 1 {
		t.Fatalf("unexpected commission scaling: %+v", item)
	}
	if item.AffChannelID != 3 {
		t.Fatalf("channel should come from first order item, got %d", item.AffChannelID)
	}
	if item.CampaignMcnID != "0" || item.LinkedMcnID != "" || item.LinkedMcnName != "Alpha MCN" {
		t.Fatalf("unexpected string defaults: %+v", item)
	}
	if len(item.Orders) == 0 {
		t.Fatalf("orders should be carried through")
	}
}

func TestScaleAmountRoundsHalfUp(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
	}{
		{"250000", 3},
		{"249999", 2},
		{"-250000", -2},
		{"-250001", -3},
		{"-50000", 0},
		{"15149999", 151},
		{"0", 0},
	}
	for _, tc := range cases {
		if got := scaleAmount(decimal.RequireFromString(tc.raw)); got != tc.want {
			t.Fatalf("scaleAmount(%s)=%d want %d", tc.raw, got, tc.want)
		}
	}
}

func TestFetchReportPageOmitsChannelZero(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("aff_channel_id") {
			t.Errorf("channel 0 must not be sent")
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"total_count":0,"list":[]}}`))
	})
	page, err := client.FetchReportPage(context.Background(), "c=1", 0, 1000, 2, 50, 0)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if page.PageNumber != 2 || page.PageSize != 50 || len(page.Items) != 0 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestFetchReportPageRejectsEmptyCookies(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	if _, err := client.FetchReportPage(context.Background(), "   ", 0, 0, 1, 10, 0); !errors.Is(err, ErrInvalidCookies) {
		t.Fatalf("expected ErrInvalidCookies, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("no http call expected")
	}
}

func TestFetchReportPageHTTPErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"session expired"}`))
	})
	_, err := client.FetchReportPage(context.Background(), "c=1", 0, 0, 1, 10, 0)
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstreamErr.Status != http.StatusUnauthorized || upstreamErr.Message != "session expired" {
		t.Fatalf("unexpected upstream error: %+v", upstreamErr)
	}
	if !errors.Is(err, ErrUpstreamAuth) || !IsAuthError(err) {
		t.Fatalf("401 should be an auth error")
	}

	server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	})
	_, err = server.FetchReportPage(context.Background(), "c=1", 0, 0, 1, 10, 0)
	if !errors.As(err, &upstreamErr) || upstreamErr.Message != "Unknown API error" {
		t.Fatalf("unexpected error for non-json body: %v", err)
	}
	if errors.Is(err, ErrUpstreamAuth) {
		t.Fatalf("502 must not be an auth error")
	}
}

func TestFetchReportPageAPICode(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":90309999,"msg":"not login"}`))
	}

	client := newTestClient(t, handler)
	page, err := client.FetchReportPage(context.Background(), "c=1", 0, 0, 1, 10, 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 90309999 || apiErr.Message != "not login" {
		t.Fatalf("expected APIError, got %v", err)
	}
	if page == nil || page.Code != 90309999 {
		t.Fatalf("envelope should be returned with api error")
	}
	if errors.Is(err, ErrUpstreamAuth) {
		t.Fatalf("unconfigured code must not be an auth error")
	}

	authClient := newTestClient(t, handler, 90309999)
	_, err = authClient.FetchReportPage(context.Background(), "c=1", 0, 0, 1, 10, 0)
	if !errors.Is(err, ErrUpstreamAuth) {
		t.Fatalf("configured code should be an auth error, got %v", err)
	}
}

func TestFetchReportPageTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"code":0}`))
	}))
	defer server.Close()
	client := New(Options{AffiliateBaseURL: server.URL, Timeout: 50 * time.Millisecond})

	_, err := client.FetchReportPage(context.Background(), "c=1", 0, 0, 1, 10, 0)
	if !errors.Is(err, ErrNetworkTimeout) {
		t.Fatalf("expected ErrNetworkTimeout, got %v", err)
	}
}

func TestTestCookies(t *testing.T) {
	ok := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page_size") != "10" {
			t.Errorf("cookie check should use page size 10")
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"total_count":0,"list":[]}}`))
	})
	if !ok.TestCookies(context.Background(), "c=1") {
		t.Fatalf("expected valid cookies")
	}

	bad := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":1,"msg":"expired"}`))
	})
	if bad.TestCookies(context.Background(), "c=1") {
		t.Fatalf("non-zero code should be invalid")
	}
	if bad.TestCookies(context.Background(), "") {
		t.Fatalf("empty cookies should be invalid")
	}
}

func TestCreatorAndBillingEndpoints(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/supply/api/lm/sellercenter/realtime/sessionList":
			if r.Header.Get("x-region-timezone") != "+0700" || r.Header.Get("x-region") != "vn" {
				t.Errorf("creator headers missing: %v", r.Header)
			}
			if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("pageSize") != "20" {
				t.Errorf("unexpected session query: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"code":0,"data":{"total":1,"list":[{"sessionId":7}]}}`))
		case "/supply/api/lm/sellercenter/realtime/dashboard/overview":
			if r.URL.Query().Get("sessionId") != "7" {
				t.Errorf("unexpected session id: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"code":2,"message":"no permission"}`))
		case "/api/v1/payment/billing_list":
			if r.URL.Query().Get("order_completed_start_time") != "100" || r.URL.Query().Get("order_completed_end_time") != "200" {
				t.Errorf("unexpected billing query: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"code":0,"data":{"list":[{"id":1},{"id":2}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	list, err := client.FetchSessionList(context.Background(), "c=1", 2, 20)
	if err != nil || !list.OK() {
		t.Fatalf("session list failed: %v %+v", err, list)
	}
	detail, err := client.FetchSessionDetail(context.Background(), "c=1", "7")
	if err != nil {
		t.Fatalf("session detail failed: %v", err)
	}
	if detail.OK() || detail.Message != "no permission" {
		t.Fatalf("unexpected detail response: %+v", detail)
	}
	billing, err := client.FetchBillingList(context.Background(), "c=1", 100, 200)
	if err != nil {
		t.Fatalf("billing failed: %v", err)
	}
	if billing.ListCount != 2 {
		t.Fatalf("unexpected billing list count: %d", billing.ListCount)
	}
}
