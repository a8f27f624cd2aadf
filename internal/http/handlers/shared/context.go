package shared

import (
	"strconv"

	"github.com/affdash/internal/http/response"
	"github.com/affdash/internal/service"

	"github.com/gin-gonic/gin"
)

// ViewerContextKey 鉴权中间件写入的访问者
const ViewerContextKey = "viewer"

// GetViewer 从上下文读取访问者并统一处理错误响应。
func GetViewer(c *gin.Context) (service.Viewer, bool) {
	value, exists := c.Get(ViewerContextKey)
	if !exists {
		RespondError(c, response.CodeUnauthorized, "unauthorized", nil)
		return service.Viewer{}, false
	}
	viewer, ok := value.(service.Viewer)
	if !ok || viewer.UserID == 0 {
		RespondError(c, response.CodeInternal, "viewer type invalid", nil)
		return service.Viewer{}, false
	}
	return viewer, true
}

// ParseIDParam 解析路径中的正整数 ID
func ParseIDParam(c *gin.Context, name string) (uint, bool) {
	raw, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || raw == 0 {
		RespondError(c, response.CodeBadRequest, "invalid "+name, nil)
		return 0, false
	}
	return uint(raw), true
}

// ParseUintQuery 解析可选的查询参数，空值返回 0
func ParseUintQuery(c *gin.Context, name string) (uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		RespondError(c, response.CodeBadRequest, "invalid "+name, err)
		return 0, false
	}
	return uint(value), true
}
