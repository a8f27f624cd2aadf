package service

import (
	"context"
	"strings"
	"time"

	"github.com/affdash/internal/constants"
	"github.com/affdash/internal/models"
	"github.com/affdash/internal/repository"
)

type requestIDContextKey struct{}

// ContextWithRequestID 将请求 ID 写入上下文，供审计记录使用
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDContextKey{}, strings.TrimSpace(requestID))
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDContextKey{}).(string)
	return value
}

// AuthzAuditRecordInput 角色审计记录输入
type AuthzAuditRecordInput struct {
	Operator Viewer
	Target   *models.User
	Action   string
	FromRole string
	ToRole   string
	Detail   models.JSON
}

// AuthzAuditService 角色审计服务
type AuthzAuditService struct {
	repo repository.AuthzAuditLogRepository
}

// NewAuthzAuditService 创建角色审计服务
func NewAuthzAuditService(repo repository.AuthzAuditLogRepository) *AuthzAuditService {
	return &AuthzAuditService{repo: repo}
}

// Record 记录角色审计日志，未知动作或缺少目标时忽略
func (s *AuthzAuditService) Record(ctx context.Context, input AuthzAuditRecordInput) error {
	if s == nil || s.repo == nil || input.Target == nil {
		return nil
	}
	action := strings.TrimSpace(input.Action)
	switch action {
	case constants.AuthzAuditActionRoleGrant, constants.AuthzAuditActionRoleChange, constants.AuthzAuditActionRoleRevoke:
	default:
		return nil
	}

	return s.repo.Create(&models.AuthzAuditLog{
		OperatorUserID:   input.Operator.UserID,
		OperatorUsername: strings.TrimSpace(input.Operator.Username),
		TargetUserID:     input.Target.ID,
		TargetUsername:   strings.TrimSpace(input.Target.Username),
		Action:           action,
		FromRole:         input.FromRole,
		ToRole:           input.ToRole,
		RequestID:        requestIDFromContext(ctx),
		DetailJSON:       input.Detail,
		CreatedAt:        time.Now(),
	})
}

// List 查询角色审计日志（仅管理员）
func (s *AuthzAuditService) List(filter repository.AuthzAuditLogListFilter, viewer Viewer) ([]models.AuthzAuditLog, int64, error) {
	if !viewer.IsAdmin() {
		return nil, 0, ErrForbidden
	}
	if s == nil || s.repo == nil {
		return []models.AuthzAuditLog{}, 0, nil
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	return s.repo.List(filter)
}
