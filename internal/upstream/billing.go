package upstream

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// BillingResponse 结算账单响应
type BillingResponse struct {
	Code      int64           `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	ListCount int             `json:"-"`
	Raw       json.RawMessage `json:"-"`
}

// FetchBillingList 按订单完成时间区间（秒）拉取结算账单
func (c *Client) FetchBillingList(ctx context.Context, cookies string, startSec, endSec int64) (*BillingResponse, error) {
	cookies = strings.TrimSpace(cookies)
	if cookies == "" {
		return nil, ErrInvalidCookies
	}
	query := url.Values{}
	query.Set("order_completed_start_time", strconv.FormatInt(startSec, 10))
	query.Set("order_completed_end_time", strconv.FormatInt(endSec, 10))

	body, err := c.get(ctx, c.affiliateBase+billingListPath, query, c.affiliateHeaders(cookies))
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(body)
	resp := &BillingResponse{
		Code:    root.Get("code").Int(),
		Message: envelopeMessage(root),
		Raw:     json.RawMessage(body),
	}
	data := root.Get("data")
	if data.Exists() && data.Type != gjson.Null {
		resp.Data = json.RawMessage(data.Raw)
	} else {
		resp.Data = json.RawMessage(`{"list":[],"income_breakdown":{}}`)
	}
	resp.ListCount = len(gjson.GetBytes(resp.Data, "list").Array())
	return resp, nil
}
