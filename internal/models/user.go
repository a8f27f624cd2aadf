package models

import (
	"time"
)

// User 后台用户
type User struct {
	ID           uint       `gorm:"primarykey" json:"id"`                                       // 主键
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`                       // 登录名
	PasswordHash string     `gorm:"not null" json:"-"`                                          // 密码哈希（不返回给前端）
	Role         string     `gorm:"type:varchar(16);not null;default:'user';index" json:"role"` // admin / user
	Groups       []Group    `gorm:"many2many:user_group_access" json:"group_access"`            // 可访问的分组
	CreatedByID  *uint      `gorm:"index" json:"created_by_id"`                                 // 创建人
	TokenVersion uint64     `gorm:"not null;default:0" json:"-"`                                // Token 版本（用于全量失效）
	LastLoginAt  *time.Time `json:"last_login_at"`                                              // 最后登录时间
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`                                    // 创建时间
	UpdatedAt    time.Time  `gorm:"index" json:"updated_at"`                                    // 更新时间
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// GroupIDs 返回可访问分组 ID
func (u *User) GroupIDs() []uint {
	if u == nil {
		return nil
	}
	ids := make([]uint, 0, len(u.Groups))
	for _, g := range u.Groups {
		ids = append(ids, g.ID)
	}
	return ids
}
