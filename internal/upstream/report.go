package upstream

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/affdash/internal/logger"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	DefaultPageSize = 500

	checkoutStatusInvalid = "Invalid"
	cookieCheckPageSize   = 10
)

var (
	amountScale = decimal.NewFromInt(100000)
	halfUnit    = decimal.New(5, -1)
)

// CommissionRecord 归一化后的佣金记录
type CommissionRecord struct {
	AffiliateNetCommission     int64           `json:"affiliate_net_commission"`
	ActualAmount               int64           `json:"actual_amount"`
	AffChannelID               int64           `json:"aff_channel_id"`
	LinkedMcnID                string          `json:"linked_mcn_id"`
	LinkedMcnName              string          `json:"linked_mcn_name"`
	LinkedMcnCommissionRate    string          `json:"linked_mcn_commission_rate"`
	CampaignMcnID              string          `json:"campaign_mcn_id"`
	CampaignMcnName            string          `json:"campaign_mcn_name"`
	McnManagementFeeCommission int64           `json:"mcn_management_fee_commission"`
	McnAgreementID             string          `json:"mcn_agreement_id"`
	PurchaseTime               int64           `json:"purchase_time"`
	CheckoutID                 int64           `json:"checkout_id"`
	CheckoutStatus             string          `json:"checkout_status"`
	InternalSource             string          `json:"internal_source"`
	DirectSource               string          `json:"direct_source"`
	IndirectSource             string          `json:"indirect_source"`
	FirstExternalSource        string          `json:"first_external_source"`
	LastExternalSource         string          `json:"last_external_source"`
	Orders                     json.RawMessage `json:"orders"`
}

// ReportPage 报表分页结果（旧版信封字段）
type ReportPage struct {
	Code       int64              `json:"code"`
	Message    string             `json:"message"`
	PageNumber int                `json:"page_number"`
	PageSize   int                `json:"page_size"`
	TotalCount int                `json:"total_count"`
	Items      []CommissionRecord `json:"items"`
}

// FetchReportPage 拉取一页佣金报表
// 业务码非 0 时同时返回页面信封与 *APIError
func (c *Client) FetchReportPage(ctx context.Context, cookies string, rangeStartMs, rangeEndMs int64, pageNumber, pageSize int, channelID int64) (*ReportPage, error) {
	cookies = strings.TrimSpace(cookies)
	if cookies == "" {
		return nil, ErrInvalidCookies
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageNumber <= 0 {
		pageNumber = 1
	}

	query := url.Values{}
	query.Set("page_size", strconv.Itoa(pageSize))
	query.Set("page_num", strconv.Itoa(pageNumber))
	query.Set("purchase_time_s", strconv.FormatInt(c.toSeconds(rangeStartMs), 10))
	query.Set("purchase_time_e", strconv.FormatInt(c.toSeconds(rangeEndMs), 10))
	query.Set("version", "1")
	if channelID != 0 {
		query.Set("aff_channel_id", strconv.FormatInt(channelID, 10))
	}

	body, err := c.get(ctx, c.affiliateBase+reportListPath, query, c.affiliateHeaders(cookies))
	if err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(body)
	data := root.Get("data")
	page := &ReportPage{
		Code:       root.Get("code").Int(),
		Message:    envelopeMessage(root),
		PageNumber: intOr(data.Get("page_num"), pageNumber),
		PageSize:   intOr(data.Get("page_size"), pageSize),
		TotalCount: int(data.Get("total_count").Int()),
		Items:      normalizeItems(data.Get("list")),
	}
	if page.Code != 0 {
		return page, c.newAPIError(page.Code, page.Message)
	}
	return page, nil
}

// TestCookies 用最近 24 小时的小页请求探测 cookies 是否有效
func (c *Client) TestCookies(ctx context.Context, cookies string) bool {
	now := time.Now()
	page, err := c.FetchReportPage(ctx, cookies, now.Add(-24*time.Hour).UnixMilli(), now.UnixMilli(), 1, cookieCheckPageSize, 0)
	if err != nil {
		logger.Warnw("upstream_cookie_check_failed", "error", err)
		return false
	}
	return page.Code == 0
}

func normalizeItems(list gjson.Result) []CommissionRecord {
	items := make([]CommissionRecord, 0)
	list.ForEach(func(_, item gjson.Result) bool {
		if record, ok := normalizeItem(item); ok {
			items = append(items, record)
		}
		return true
	})
	return items
}

// normalizeItem 过滤无效结算并展开订单金额
func normalizeItem(item gjson.Result) (CommissionRecord, bool) {
	if item.Get("checkout_status").String() == checkoutStatusInvalid {
		return CommissionRecord{}, false
	}
	orders := item.Get("orders")
	if !orders.IsArray() || len(orders.Array()) == 0 {
		return CommissionRecord{}, false
	}

	total := decimal.Zero
	for _, order := range orders.Array() {
		status := order.Get("display_order_status").Int()
		if status != 1 && status != 2 {
			return CommissionRecord{}, false
		}
		for _, orderItem := range order.Get("items").Array() {
			total = total.Add(parseAmount(orderItem.Get("actual_amount")))
		}
	}

	return CommissionRecord{
		AffiliateNetCommission:     scaleAmount(parseAmount(item.Get("affiliate_net_commission"))),
		ActualAmount:               scaleAmount(total),
		AffChannelID:               orders.Get("0.items.0.channel").Int(),
		LinkedMcnID:                stringOr(item.Get("linked_mcn_id"), ""),
		LinkedMcnName:              stringOr(item.Get("linked_mcn_name"), ""),
		LinkedMcnCommissionRate:    stringOr(item.Get("linked_mcn_commission_rate"), ""),
		CampaignMcnID:              stringOr(item.Get("campaign_mcn_id"), "0"),
		CampaignMcnName:            stringOr(item.Get("campaign_mcn_name"), ""),
		McnManagementFeeCommission: scaleAmount(parseAmount(item.Get("mcn_management_fee_commission"))),
		McnAgreementID:             stringOr(item.Get("mcn_agreement_id"), ""),
		PurchaseTime:               item.Get("purchase_time").Int(),
		CheckoutID:                 item.Get("checkout_id").Int(),
		CheckoutStatus:             item.Get("checkout_status").String(),
		InternalSource:             stringOr(item.Get("internal_source"), ""),
		DirectSource:               stringOr(item.Get("direct_source"), ""),
		IndirectSource:             stringOr(item.Get("indirect_source"), ""),
		FirstExternalSource:        stringOr(item.Get("first_external_source"), ""),
		LastExternalSource:         stringOr(item.Get("last_external_source"), ""),
		Orders:                     json.RawMessage(orders.Raw),
	}, true
}

// parseAmount 金额可能是数字或字符串
func parseAmount(v gjson.Result) decimal.Decimal {
	switch v.Type {
	case gjson.Number:
		if d, err := decimal.NewFromString(v.Raw); err == nil {
			return d
		}
		return decimal.NewFromFloat(v.Float())
	case gjson.String:
		if d, err := decimal.NewFromString(strings.TrimSpace(v.Str)); err == nil {
			return d
		}
	}
	return decimal.Zero
}

// scaleAmount 上游金额放大了 100000 倍，还原为整数 VND
// 半数向正无穷取整，-2.5 得 -2
func scaleAmount(d decimal.Decimal) int64 {
	return d.Div(amountScale).Add(halfUnit).Floor().IntPart()
}

func stringOr(v gjson.Result, fallback string) string {
	if !v.Exists() || v.Type == gjson.Null {
		return fallback
	}
	s := v.String()
	if s == "" || (v.Type == gjson.Number && v.Num == 0) || v.Type == gjson.False {
		return fallback
	}
	return s
}

func intOr(v gjson.Result, fallback int) int {
	if n := v.Int(); n != 0 {
		return int(n)
	}
	return fallback
}
