package dashboard

import (
	"strconv"
	"strings"

	"github.com/affdash/internal/http/response"

	"github.com/gin-gonic/gin"
)

// ListSessions 直播场次列表
func (h *Handler) ListSessions(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	accountID, ok := parseID(c, "accountId")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	sessions, err := h.SessionService.List(c.Request.Context(), accountID, page, limit, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, sessions)
}

// GetSessionDetail 直播场次详情
func (h *Handler) GetSessionDetail(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	accountID, ok := parseID(c, "accountId")
	if !ok {
		return
	}
	sessionID := strings.TrimSpace(c.Param("sessionId"))
	if sessionID == "" {
		respondError(c, response.CodeBadRequest, "invalid sessionId", nil)
		return
	}
	detail, err := h.SessionService.Detail(c.Request.Context(), accountID, sessionID, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, detail)
}
