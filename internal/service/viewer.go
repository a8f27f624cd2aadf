package service

import (
	"github.com/affdash/internal/constants"
	"github.com/affdash/internal/models"
)

// Viewer 当前请求的访问主体
type Viewer struct {
	UserID   uint
	Username string
	Role     string
	GroupIDs []uint
}

// IsAdmin 是否管理员
func (v Viewer) IsAdmin() bool {
	return v.Role == constants.RoleAdmin
}

// CanAccessGroup 普通用户只能访问被授权的分组
func (v Viewer) CanAccessGroup(groupID uint) bool {
	if v.IsAdmin() {
		return true
	}
	for _, id := range v.GroupIDs {
		if id == groupID {
			return true
		}
	}
	return false
}

// CanAccessAccount 判断账号是否在可见范围内
func (v Viewer) CanAccessAccount(account *models.Account) bool {
	return account != nil && v.CanAccessGroup(account.GroupID)
}

// scopeGroupIDs 返回账号查询的分组限制，nil 表示不限制
func (v Viewer) scopeGroupIDs() []uint {
	if v.IsAdmin() {
		return nil
	}
	if v.GroupIDs == nil {
		return []uint{}
	}
	return v.GroupIDs
}

// ViewerFromUser 从用户记录构造访问主体
func ViewerFromUser(user *models.User) Viewer {
	if user == nil {
		return Viewer{}
	}
	return Viewer{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		GroupIDs: user.GroupIDs(),
	}
}
