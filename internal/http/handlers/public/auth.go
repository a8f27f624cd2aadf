package public

import (
	"errors"
	"strings"
	"time"

	handlershared "github.com/affdash/internal/http/handlers/shared"
	"github.com/affdash/internal/http/response"
	"github.com/affdash/internal/models"
	"github.com/affdash/internal/service"

	"github.com/gin-gonic/gin"
)

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录结果
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Login 用户名密码登录
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlershared.RespondError(c, response.CodeBadRequest, "username and password required", nil)
		return
	}

	user, token, expiresAt, err := h.AuthService.Login(service.LoginInput{
		Username:  strings.TrimSpace(req.Username),
		Password:  req.Password,
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: response.RequestID(c),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			handlershared.RespondError(c, response.CodeUnauthorized, err.Error(), nil)
			return
		}
		handlershared.RespondError(c, response.CodeInternal, "login failed", err)
		return
	}

	response.Success(c, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}
