package dashboard

import (
	"strings"

	"github.com/affdash/internal/http/response"

	"github.com/gin-gonic/gin"
)

// GroupRequest 创建/更新分组请求
type GroupRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// ListGroups 分组列表（普通用户仅返回已授权分组）
func (h *Handler) ListGroups(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	groups, total, err := h.GroupService.List(page, pageSize, strings.TrimSpace(c.Query("keyword")), viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Page(c, groups, page, pageSize, total)
}

// CreateGroup 创建分组
func (h *Handler) CreateGroup(c *gin.Context) {
	var req GroupRequest
	if !bindJSON(c, &req) {
		return
	}
	group, err := h.GroupService.Create(req.Name, req.Description)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, group)
}

// GetGroup 分组详情
func (h *Handler) GetGroup(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	group, err := h.GroupService.Get(id, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, group)
}

// UpdateGroup 更新分组
func (h *Handler) UpdateGroup(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req GroupRequest
	if !bindJSON(c, &req) {
		return
	}
	group, err := h.GroupService.Update(id, req.Name, req.Description)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, group)
}

// DeleteGroup 删除分组，分组下仍有账号时拒绝
func (h *Handler) DeleteGroup(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.GroupService.Delete(id); err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithMsg(c, "group deleted", gin.H{"id": id})
}

// ListGroupAccounts 分组下的账号
func (h *Handler) ListGroupAccounts(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	accounts, err := h.GroupService.Accounts(id, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, accounts)
}
