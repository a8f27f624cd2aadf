package dashboard

import (
	"strconv"
	"strings"

	"github.com/affdash/internal/http/response"
	"github.com/affdash/internal/models"
	"github.com/affdash/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateAccountRequest 新增账号请求
type CreateAccountRequest struct {
	ExternalUserID int64       `json:"external_user_id" binding:"required"`
	UserName       string      `json:"user_name" binding:"required"`
	UserMeta       models.JSON `json:"user_meta"`
	Cookies        string      `json:"cookies" binding:"required"`
	GroupID        uint        `json:"group_id" binding:"required"`
}

// UpdateCookiesRequest 更新 cookies 请求
type UpdateCookiesRequest struct {
	Cookies string `json:"cookies" binding:"required"`
}

// ChangeGroupRequest 调整分组请求
type ChangeGroupRequest struct {
	GroupID uint `json:"group_id" binding:"required"`
}

// ListAccounts 账号列表
func (h *Handler) ListAccounts(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	groupID, ok := parseOptionalUint(c, "group_id")
	if !ok {
		return
	}
	query := service.AccountListQuery{
		Page:     page,
		PageSize: pageSize,
		GroupID:  groupID,
		Keyword:  strings.TrimSpace(c.Query("keyword")),
	}
	if raw := strings.TrimSpace(c.Query("cookie_expired")); raw != "" {
		expired, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, response.CodeBadRequest, "invalid cookie_expired", nil)
			return
		}
		query.CookieExpired = &expired
	}
	accounts, total, err := h.AccountService.List(query, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Page(c, accounts, page, pageSize, total)
}

// CreateAccount 新增账号并探测 cookies
func (h *Handler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if !bindJSON(c, &req) {
		return
	}
	account, err := h.AccountService.Add(c.Request.Context(), service.AddAccountInput{
		ExternalUserID: req.ExternalUserID,
		UserName:       req.UserName,
		UserMeta:       req.UserMeta,
		Cookies:        req.Cookies,
		GroupID:        req.GroupID,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, account)
}

// GetAccount 账号详情
func (h *Handler) GetAccount(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	account, err := h.AccountService.Get(id, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, account)
}

// UpdateAccountCookies 更新 cookies
func (h *Handler) UpdateAccountCookies(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req UpdateCookiesRequest
	if !bindJSON(c, &req) {
		return
	}
	account, err := h.AccountService.UpdateCookies(c.Request.Context(), id, req.Cookies, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, account)
}

// ChangeAccountGroup 调整账号分组
func (h *Handler) ChangeAccountGroup(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ChangeGroupRequest
	if !bindJSON(c, &req) {
		return
	}
	account, err := h.AccountService.ChangeGroup(id, req.GroupID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, account)
}

// TestAccountCookies 探测 cookies 是否仍可用
func (h *Handler) TestAccountCookies(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	result, err := h.AccountService.TestCookies(c.Request.Context(), id, viewer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, result)
}

// DeleteAccount 删除账号及其报表缓存
func (h *Handler) DeleteAccount(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.AccountService.Delete(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithMsg(c, "account deleted", gin.H{"id": id})
}
