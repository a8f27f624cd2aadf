package models

import (
	"time"
)

// Account 联盟平台账号（nick）
type Account struct {
	ID             uint      `gorm:"primarykey" json:"id"`                               // 主键
	ExternalUserID int64     `gorm:"uniqueIndex;not null" json:"external_user_id"`       // 平台用户 ID
	UserName       string    `gorm:"index;not null" json:"user_name"`                    // 平台昵称
	UserMeta       JSON      `gorm:"type:json" json:"user_meta"`                         // 平台用户附加信息
	CookiesCipher  string    `gorm:"type:text;not null" json:"-"`                        // 加密后的 cookies
	CookieExpired  bool      `gorm:"not null;default:false;index" json:"cookie_expired"` // cookies 是否失效
	GroupID        uint      `gorm:"index;not null" json:"group_id"`                     // 所属分组
	Group          *Group    `gorm:"foreignKey:GroupID" json:"group,omitempty"`          // 分组
	CreatedAt      time.Time `gorm:"index" json:"created_at"`                            // 创建时间
	UpdatedAt      time.Time `gorm:"index" json:"updated_at"`                            // 更新时间
}

// TableName 指定表名
func (Account) TableName() string {
	return "accounts"
}
