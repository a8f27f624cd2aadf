package dashboard

import (
	"strings"
	"time"

	"github.com/affdash/internal/constants"
	"github.com/affdash/internal/http/response"
	"github.com/affdash/internal/repository"
	"github.com/affdash/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateUserRequest 创建用户请求
type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
	GroupIDs []uint `json:"group_ids"`
}

// UpdateUserRequest 更新用户请求，缺省字段不修改
type UpdateUserRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	Role     *string `json:"role"`
	GroupIDs *[]uint `json:"group_ids"`
}

// GetMe 当前登录用户
func (h *Handler) GetMe(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	user, err := h.UserService.Get(viewer.UserID, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, user)
}

// ListUsers 用户列表
func (h *Handler) ListUsers(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	users, total, err := h.UserService.List(repository.UserListFilter{
		Page:     page,
		PageSize: pageSize,
		Keyword:  strings.TrimSpace(c.Query("keyword")),
		Role:     strings.TrimSpace(c.Query("role")),
	}, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Page(c, users, page, pageSize, total)
}

// CreateUser 创建用户
func (h *Handler) CreateUser(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	var req CreateUserRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.UserService.Create(c.Request.Context(), service.CreateUserInput{
		Username: req.Username,
		Password: req.Password,
		Role:     req.Role,
		GroupIDs: req.GroupIDs,
	}, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, user)
}

// GetUser 用户详情
func (h *Handler) GetUser(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	user, err := h.UserService.Get(id, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, user)
}

// UpdateUser 更新用户
func (h *Handler) UpdateUser(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req UpdateUserRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.UserService.Update(c.Request.Context(), id, service.UpdateUserInput{
		Username: req.Username,
		Password: req.Password,
		Role:     req.Role,
		GroupIDs: req.GroupIDs,
	}, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, user)
}

// DeleteUser 删除用户
func (h *Handler) DeleteUser(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.UserService.Delete(c.Request.Context(), id, viewer); err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithMsg(c, "user deleted", gin.H{"id": id})
}

// ListLoginLogs 登录日志
func (h *Handler) ListLoginLogs(c *gin.Context) {
	page, pageSize := pageParams(c)
	userID, ok := parseOptionalUint(c, "user_id")
	if !ok {
		return
	}
	logs, total, err := h.UserLoginLogService.List(repository.UserLoginLogListFilter{
		Page:       page,
		PageSize:   pageSize,
		UserID:     userID,
		Username:   strings.TrimSpace(c.Query("username")),
		Status:     strings.TrimSpace(c.Query("status")),
		FailReason: strings.TrimSpace(c.Query("fail_reason")),
		ClientIP:   strings.TrimSpace(c.Query("client_ip")),
	})
	if err != nil {
		respondError(c, response.CodeInternal, "login logs fetch failed", err)
		return
	}
	response.Page(c, logs, page, pageSize, total)
}

// ListRoleAudits 角色变更审计
func (h *Handler) ListRoleAudits(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	operatorID, ok := parseOptionalUint(c, "operator_user_id")
	if !ok {
		return
	}
	targetID, ok := parseOptionalUint(c, "target_user_id")
	if !ok {
		return
	}
	filter := repository.AuthzAuditLogListFilter{
		Page:           page,
		PageSize:       pageSize,
		OperatorUserID: operatorID,
		TargetUserID:   targetID,
		Action:         strings.TrimSpace(c.Query("action")),
	}
	if raw := strings.TrimSpace(c.Query("start_date")); raw != "" {
		from, err := time.ParseInLocation(constants.DateLayout, raw, h.Location)
		if err != nil {
			respondError(c, response.CodeBadRequest, "invalid start_date", nil)
			return
		}
		filter.CreatedFrom = &from
	}
	if raw := strings.TrimSpace(c.Query("end_date")); raw != "" {
		to, err := time.ParseInLocation(constants.DateLayout, raw, h.Location)
		if err != nil {
			respondError(c, response.CodeBadRequest, "invalid end_date", nil)
			return
		}
		to = to.Add(24*time.Hour - time.Nanosecond)
		filter.CreatedTo = &to
	}

	logs, total, err := h.AuthzAuditService.List(filter, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Page(c, logs, page, pageSize, total)
}
