package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidCookies  = errors.New("invalid or empty cookies")
	ErrUpstreamAuth    = errors.New("upstream rejected session")
	ErrNetworkTimeout  = errors.New("network timeout or no response from server")
	ErrNetwork         = errors.New("network request failed")
	ErrResponseInvalid = errors.New("upstream response invalid")
)

// UpstreamError 上游 HTTP 非成功状态
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("API Error %d: %s", e.Status, e.Message)
}

// Is 401/403 视为会话失效
func (e *UpstreamError) Is(target error) bool {
	if target != ErrUpstreamAuth {
		return false
	}
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// APIError 上游业务码非 0
type APIError struct {
	Code    int64
	Message string
	auth    bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API code %d", e.Code)
	}
	return fmt.Sprintf("API code %d: %s", e.Code, e.Message)
}

// Is 配置中的鉴权错误码视为会话失效
func (e *APIError) Is(target error) bool {
	return target == ErrUpstreamAuth && e.auth
}

// IsAuthError 判断错误是否表示 cookies 已失效
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidCookies) || errors.Is(err, ErrUpstreamAuth)
}
