package upstream

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// CreatorResponse 创作者平台响应
type CreatorResponse struct {
	Code    int64
	Message string
	Data    json.RawMessage
}

// OK 业务码为 0
func (r *CreatorResponse) OK() bool {
	return r != nil && r.Code == 0
}

// FetchSessionList 拉取直播场次列表
func (c *Client) FetchSessionList(ctx context.Context, cookies string, page, pageSize int) (*CreatorResponse, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("pageSize", strconv.Itoa(pageSize))
	return c.creatorGet(ctx, cookies, sessionListPath, query)
}

// FetchSessionDetail 拉取单场直播概览
func (c *Client) FetchSessionDetail(ctx context.Context, cookies string, sessionID string) (*CreatorResponse, error) {
	query := url.Values{}
	query.Set("sessionId", strings.TrimSpace(sessionID))
	return c.creatorGet(ctx, cookies, sessionDetailURI, query)
}

func (c *Client) creatorGet(ctx context.Context, cookies, path string, query url.Values) (*CreatorResponse, error) {
	cookies = strings.TrimSpace(cookies)
	if cookies == "" {
		return nil, ErrInvalidCookies
	}
	body, err := c.get(ctx, c.creatorBase+path, query, c.creatorHeaders(cookies))
	if err != nil {
		return nil, err
	}
	return parseCreatorResponse(body), nil
}

func parseCreatorResponse(body []byte) *CreatorResponse {
	root := gjson.ParseBytes(body)
	resp := &CreatorResponse{
		Code:    root.Get("code").Int(),
		Message: envelopeMessage(root),
	}
	if data := root.Get("data"); data.Exists() {
		resp.Data = json.RawMessage(data.Raw)
	}
	return resp
}
