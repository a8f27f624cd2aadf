package models

import "time"

// AuthzAuditLog 角色授权审计日志
// 记录用户角色的授予、变更与回收，支持按操作人、目标用户与时间范围检索。
type AuthzAuditLog struct {
	ID               uint      `gorm:"primarykey" json:"id"`
	OperatorUserID   uint      `gorm:"index;not null" json:"operator_user_id"`
	OperatorUsername string    `gorm:"type:varchar(100);index;not null;default:''" json:"operator_username"`
	TargetUserID     uint      `gorm:"index;not null" json:"target_user_id"`
	TargetUsername   string    `gorm:"type:varchar(100);index;not null;default:''" json:"target_username"`
	Action           string    `gorm:"type:varchar(50);index;not null" json:"action"`
	FromRole         string    `gorm:"type:varchar(20);not null;default:''" json:"from_role"`
	ToRole           string    `gorm:"type:varchar(20);not null;default:''" json:"to_role"`
	RequestID        string    `gorm:"type:varchar(64);index;not null;default:''" json:"request_id"`
	DetailJSON       JSON      `gorm:"type:json" json:"detail"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (AuthzAuditLog) TableName() string {
	return "authz_audit_logs"
}
