package service

import (
	"context"
	"strings"

	"github.com/affdash/internal/cache"
	"github.com/affdash/internal/constants"
	"github.com/affdash/internal/logger"
	"github.com/affdash/internal/models"
	"github.com/affdash/internal/repository"
)

// RoleBinder 同步用户与授权角色的绑定
type RoleBinder interface {
	SyncUserRole(userID uint, role string) error
	RemoveUser(userID uint) error
}

// UserService 后台用户管理
type UserService struct {
	userRepo  repository.UserRepository
	groupRepo repository.GroupRepository
	auth      *AuthService
	roles     RoleBinder
	audit     *AuthzAuditService
}

// NewUserService 创建用户服务，roles 与 audit 可为空
func NewUserService(userRepo repository.UserRepository, groupRepo repository.GroupRepository, auth *AuthService, roles RoleBinder, audit *AuthzAuditService) *UserService {
	return &UserService{userRepo: userRepo, groupRepo: groupRepo, auth: auth, roles: roles, audit: audit}
}

// CreateUserInput 创建用户参数
type CreateUserInput struct {
	Username string
	Password string
	Role     string
	GroupIDs []uint
}

// UpdateUserInput 更新用户参数，nil 表示不修改
type UpdateUserInput struct {
	Username *string
	Password *string
	Role     *string
	GroupIDs *[]uint
}

// Create 创建用户（仅管理员）
func (s *UserService) Create(ctx context.Context, input CreateUserInput, viewer Viewer) (*models.User, error) {
	if !viewer.IsAdmin() {
		return nil, ErrForbidden
	}
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, ErrUsernameRequired
	}
	role, err := normalizeRole(input.Role)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}
	existing, err := s.userRepo.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameExists
	}
	groupIDs, err := s.resolveGroupIDs(input.GroupIDs)
	if err != nil {
		return nil, err
	}
	hash, err := s.auth.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	}
	if viewer.UserID != 0 {
		creator := viewer.UserID
		user.CreatedByID = &creator
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}
	if len(groupIDs) > 0 {
		if err := s.userRepo.ReplaceGroups(user, groupIDs); err != nil {
			return nil, err
		}
	}
	if err := s.bindRole(user); err != nil {
		return nil, err
	}
	s.recordRole(ctx, viewer, user, constants.AuthzAuditActionRoleGrant, "", user.Role)
	return s.userRepo.GetByID(user.ID)
}

// List 用户列表（仅管理员）
func (s *UserService) List(filter repository.UserListFilter, viewer Viewer) ([]models.User, int64, error) {
	if !viewer.IsAdmin() {
		return nil, 0, ErrForbidden
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	return s.userRepo.List(filter)
}

// Get 管理员或本人可查看
func (s *UserService) Get(id uint, viewer Viewer) (*models.User, error) {
	if !viewer.IsAdmin() && viewer.UserID != id {
		return nil, ErrForbidden
	}
	user, err := s.userRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Update 更新用户
// 本人只能改用户名与密码，角色与分组授权仅管理员可改
func (s *UserService) Update(ctx context.Context, id uint, input UpdateUserInput, viewer Viewer) (*models.User, error) {
	user, err := s.Get(id, viewer)
	if err != nil {
		return nil, err
	}
	if !viewer.IsAdmin() && (input.Role != nil || input.GroupIDs != nil) {
		return nil, ErrForbidden
	}

	revoke := false
	fromRole := user.Role
	if input.Username != nil {
		username := strings.TrimSpace(*input.Username)
		if username == "" {
			return nil, ErrUsernameRequired
		}
		if username != user.Username {
			existing, err := s.userRepo.GetByUsername(username)
			if err != nil {
				return nil, err
			}
			if existing != nil && existing.ID != user.ID {
				return nil, ErrUsernameExists
			}
			user.Username = username
		}
	}
	if input.Password != nil {
		if err := validatePassword(*input.Password); err != nil {
			return nil, err
		}
		hash, err := s.auth.HashPassword(*input.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
		revoke = true
	}
	if input.Role != nil {
		role, err := normalizeRole(*input.Role)
		if err != nil {
			return nil, err
		}
		if role != user.Role {
			if user.Role == constants.RoleAdmin {
				if err := s.ensureAnotherAdmin(); err != nil {
					return nil, err
				}
			}
			user.Role = role
			revoke = true
		}
	}
	if revoke {
		user.TokenVersion++
	}
	if err := s.userRepo.Update(user); err != nil {
		return nil, err
	}
	if input.Role != nil {
		if err := s.bindRole(user); err != nil {
			return nil, err
		}
		if fromRole != user.Role {
			s.recordRole(ctx, viewer, user, constants.AuthzAuditActionRoleChange, fromRole, user.Role)
		}
	}
	if input.GroupIDs != nil {
		groupIDs, err := s.resolveGroupIDs(*input.GroupIDs)
		if err != nil {
			return nil, err
		}
		if err := s.userRepo.ReplaceGroups(user, groupIDs); err != nil {
			return nil, err
		}
	}
	if err := cache.DelUserAuthState(ctx, user.ID); err != nil {
		logger.Warnw("user_auth_state_invalidate_failed", "user_id", user.ID, "error", err)
	}
	return s.userRepo.GetByID(user.ID)
}

// Delete 删除用户（仅管理员），不能删除最后一个管理员
func (s *UserService) Delete(ctx context.Context, id uint, viewer Viewer) error {
	if !viewer.IsAdmin() {
		return ErrForbidden
	}
	user, err := s.userRepo.GetByID(id)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.Role == constants.RoleAdmin {
		if err := s.ensureAnotherAdmin(); err != nil {
			return err
		}
	}
	if err := s.userRepo.Delete(user.ID); err != nil {
		return err
	}
	if s.roles != nil {
		if err := s.roles.RemoveUser(user.ID); err != nil {
			logger.Warnw("user_authz_cleanup_failed", "user_id", user.ID, "error", err)
		}
	}
	s.recordRole(ctx, viewer, user, constants.AuthzAuditActionRoleRevoke, user.Role, "")
	if err := cache.DelUserAuthState(ctx, user.ID); err != nil {
		logger.Warnw("user_auth_state_invalidate_failed", "user_id", user.ID, "error", err)
	}
	return nil
}

func (s *UserService) bindRole(user *models.User) error {
	if s.roles == nil {
		return nil
	}
	return s.roles.SyncUserRole(user.ID, user.Role)
}

// recordRole 审计写入失败只记录告警
func (s *UserService) recordRole(ctx context.Context, viewer Viewer, user *models.User, action, fromRole, toRole string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, AuthzAuditRecordInput{
		Operator: viewer,
		Target:   user,
		Action:   action,
		FromRole: fromRole,
		ToRole:   toRole,
	}); err != nil {
		logger.Warnw("user_role_audit_failed", "user_id", user.ID, "action", action, "error", err)
	}
}

func (s *UserService) ensureAnotherAdmin() error {
	count, err := s.userRepo.CountByRole(constants.RoleAdmin)
	if err != nil {
		return err
	}
	if count <= 1 {
		return ErrLastAdmin
	}
	return nil
}

// resolveGroupIDs 去重并校验分组存在
func (s *UserService) resolveGroupIDs(ids []uint) ([]uint, error) {
	seen := make(map[uint]struct{}, len(ids))
	result := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		group, err := s.groupRepo.GetByID(id)
		if err != nil {
			return nil, err
		}
		if group == nil {
			return nil, ErrGroupNotFound
		}
		result = append(result, id)
	}
	return result, nil
}

func normalizeRole(role string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "", constants.RoleUser:
		return constants.RoleUser, nil
	case constants.RoleAdmin:
		return constants.RoleAdmin, nil
	default:
		return "", ErrInvalidRole
	}
}
