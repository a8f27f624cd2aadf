package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/affdash/internal/logger"

	"github.com/tidwall/gjson"
)

const (
	defaultAffiliateBaseURL = "https://affiliate.shopee.vn/api"
	defaultCreatorBaseURL   = "https://creator.shopee.vn/supply/api"
	defaultTimeout          = 30 * time.Second
	defaultUserAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"

	reportListPath   = "/v3/report/list"
	billingListPath  = "/v1/payment/billing_list"
	sessionListPath  = "/lm/sellercenter/realtime/sessionList"
	sessionDetailURI = "/lm/sellercenter/realtime/dashboard/overview"
)

// Options 客户端配置
type Options struct {
	AffiliateBaseURL string
	CreatorBaseURL   string
	Timeout          time.Duration
	Location         *time.Location
	UserAgent        string
	AuthErrorCodes   []int64
	HTTPClient       *http.Client
}

// Client 联盟平台 API 客户端
type Client struct {
	affiliateBase string
	creatorBase   string
	location      *time.Location
	userAgent     string
	authCodes     map[int64]struct{}
	httpClient    *http.Client
}

// New 创建客户端
func New(opts Options) *Client {
	c := &Client{
		affiliateBase: strings.TrimRight(strings.TrimSpace(opts.AffiliateBaseURL), "/"),
		creatorBase:   strings.TrimRight(strings.TrimSpace(opts.CreatorBaseURL), "/"),
		location:      opts.Location,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		authCodes:     make(map[int64]struct{}, len(opts.AuthErrorCodes)),
		httpClient:    opts.HTTPClient,
	}
	if c.affiliateBase == "" {
		c.affiliateBase = defaultAffiliateBaseURL
	}
	if c.creatorBase == "" {
		c.creatorBase = defaultCreatorBaseURL
	}
	if c.location == nil {
		c.location = time.FixedZone("UTC+7", 7*3600)
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	for _, code := range opts.AuthErrorCodes {
		c.authCodes[code] = struct{}{}
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	return c
}

// Location 返回用于日界线计算的时区
func (c *Client) Location() *time.Location {
	return c.location
}

// newAPIError 构造业务错误，并按配置标记鉴权类错误码
func (c *Client) newAPIError(code int64, message string) *APIError {
	_, auth := c.authCodes[code]
	return &APIError{Code: code, Message: message, auth: auth}
}

// toSeconds 毫秒时间戳转秒，时区仅用于日志展示
func (c *Client) toSeconds(ms int64) int64 {
	seconds := ms / 1000
	if ms < 0 && ms%1000 != 0 {
		seconds--
	}
	logger.Debugw("upstream_timestamp_normalized",
		"timestamp_ms", ms,
		"seconds", seconds,
		"utc", time.UnixMilli(ms).UTC().Format(time.RFC3339),
		"local", time.UnixMilli(ms).In(c.location).Format(time.RFC3339),
	)
	return seconds
}

func (c *Client) affiliateHeaders(cookies string) http.Header {
	h := http.Header{}
	h.Set("Cookie", cookies)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("User-Agent", c.userAgent)
	h.Set("affiliate-program-type", "1")
	h.Set("sec-fetch-dest", "empty")
	h.Set("sec-fetch-mode", "cors")
	h.Set("sec-fetch-site", "same-origin")
	return h
}

func (c *Client) creatorHeaders(cookies string) http.Header {
	h := http.Header{}
	h.Set("Cookie", cookies)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("language", "en")
	h.Set("x-env", "live")
	h.Set("x-region", "vn")
	h.Set("x-region-domain", "vn")
	h.Set("x-region-timezone", formatOffset(c.location))
	h.Set("User-Agent", c.userAgent)
	return h
}

// get 发起 GET 请求并返回响应体
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, header http.Header) ([]byte, error) {
	if len(query) > 0 {
		endpoint = endpoint + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header = header

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: extractErrorMessage(body)}
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: body is not json", ErrResponseInvalid)
	}
	return body, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// extractErrorMessage 从错误响应体中提取 message/error/msg
func extractErrorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, key := range []string{"message", "error", "msg"} {
			if v := gjson.GetBytes(body, key); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
	}
	return "Unknown API error"
}

// envelopeMessage 读取 msg 或 message
func envelopeMessage(result gjson.Result) string {
	if msg := result.Get("msg").String(); msg != "" {
		return msg
	}
	return result.Get("message").String()
}

func formatOffset(loc *time.Location) string {
	_, offset := time.Now().In(loc).Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("%s%02d%02d", sign, offset/3600, (offset%3600)/60)
}
