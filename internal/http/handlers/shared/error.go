package shared

import (
	"errors"

	"github.com/affdash/internal/http/response"
	"github.com/affdash/internal/logger"
	"github.com/affdash/internal/service"
	"github.com/affdash/internal/upstream"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// MsgCookiesExpired cookies 失效提示
	MsgCookiesExpired = "cookies expired, please update"
	// MsgFetchFailed 上游抓取失败提示
	MsgFetchFailed = "fetch failed, retry later"
)

// RequestLog 提供携带 request_id 的日志实例。
func RequestLog(c *gin.Context) *zap.SugaredLogger {
	if c == nil {
		return logger.S()
	}
	if id := response.RequestID(c); id != "" {
		return logger.SW("request_id", id)
	}
	return logger.S()
}

// RespondError 返回错误响应，并在有原始错误时记录日志。
func RespondError(c *gin.Context, code int, msg string, err error) {
	appErr := response.WrapError(code, msg, err)
	if err != nil {
		RequestLog(c).Errorw("handler_error",
			"code", appErr.Code,
			"message", appErr.Message,
			"error", err,
		)
	}
	response.Error(c, appErr.Code, appErr.Message)
}

type errorMapping struct {
	target error
	code   int
}

var serviceErrorMappings = []errorMapping{
	{service.ErrInvalidCredentials, response.CodeUnauthorized},
	{service.ErrForbidden, response.CodeForbidden},
	{service.ErrAccountNotFound, response.CodeNotFound},
	{service.ErrGroupNotFound, response.CodeNotFound},
	{service.ErrUserNotFound, response.CodeNotFound},
	{service.ErrNoAccounts, response.CodeNotFound},
	{service.ErrAccountExists, response.CodeConflict},
	{service.ErrGroupExists, response.CodeConflict},
	{service.ErrUsernameExists, response.CodeConflict},
	{service.ErrGroupNotEmpty, response.CodeConflict},
	{service.ErrLastAdmin, response.CodeConflict},
	{service.ErrInvalidDateRange, response.CodeBadRequest},
	{service.ErrInvalidAccountInput, response.CodeBadRequest},
	{service.ErrGroupNameRequired, response.CodeBadRequest},
	{service.ErrUsernameRequired, response.CodeBadRequest},
	{service.ErrInvalidRole, response.CodeBadRequest},
	{service.ErrWeakPassword, response.CodeBadRequest},
	{service.ErrCookiesRequired, response.CodeBadRequest},
	{service.ErrInvalidPeriods, response.CodeBadRequest},
	{service.ErrJobIDsRequired, response.CodeBadRequest},
}

// RespondServiceError 将服务层错误映射为统一响应
// cookies 相关错误统一提示更新；其余未识别错误按抓取失败处理并附带原始错误
func RespondServiceError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	for _, mapping := range serviceErrorMappings {
		if errors.Is(err, mapping.target) {
			RespondError(c, mapping.code, mapping.target.Error(), nil)
			return
		}
	}
	if service.IsCookieExpiryError(err) {
		RequestLog(c).Warnw("handler_cookie_expired", "error", err)
		response.ErrorWithData(c, response.CodeBadRequest, MsgCookiesExpired, gin.H{"cookie_expired": true})
		return
	}
	var rejected *service.RejectedError
	if errors.As(err, &rejected) {
		response.ErrorWithData(c, response.CodeBadRequest, rejected.Message, gin.H{"code": rejected.Code})
		return
	}
	if errors.Is(err, upstream.ErrNetwork) || errors.Is(err, upstream.ErrNetworkTimeout) || errors.Is(err, upstream.ErrResponseInvalid) {
		RequestLog(c).Warnw("handler_upstream_failed", "error", err)
		response.ErrorWithData(c, response.CodeInternal, MsgFetchFailed, gin.H{"error": err.Error()})
		return
	}
	var upstreamErr *upstream.UpstreamError
	var apiErr *upstream.APIError
	if errors.As(err, &upstreamErr) || errors.As(err, &apiErr) {
		RequestLog(c).Warnw("handler_upstream_failed", "error", err)
		response.ErrorWithData(c, response.CodeInternal, MsgFetchFailed, gin.H{"error": err.Error()})
		return
	}
	RequestLog(c).Errorw("handler_error", "error", err)
	response.ErrorWithData(c, response.CodeInternal, "internal error", gin.H{"error": err.Error()})
}
