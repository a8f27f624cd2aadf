package dashboard

import (
	"strconv"

	handlershared "github.com/affdash/internal/http/handlers/shared"
	"github.com/affdash/internal/http/response"
	"github.com/affdash/internal/service"

	"github.com/gin-gonic/gin"
)

func getViewer(c *gin.Context) (service.Viewer, bool) {
	return handlershared.GetViewer(c)
}

func parseID(c *gin.Context, name string) (uint, bool) {
	return handlershared.ParseIDParam(c, name)
}

func respondError(c *gin.Context, code int, msg string, err error) {
	handlershared.RespondError(c, code, msg, err)
}

func respondServiceError(c *gin.Context, err error) {
	handlershared.RespondServiceError(c, err)
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return handlershared.NormalizePagination(page, pageSize)
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", nil)
		handlershared.RequestLog(c).Debugw("handler_bind_failed", "error", err)
		return false
	}
	return true
}

func parseOptionalUint(c *gin.Context, name string) (uint, bool) {
	return handlershared.ParseUintQuery(c, name)
}
