package repository

import "time"

// AccountListFilter 查询账号列表的过滤条件
// GroupIDs 非空时只返回这些分组下的账号（用于普通用户的访问范围）
type AccountListFilter struct {
	Page          int
	PageSize      int
	IDs           []uint
	GroupID       uint
	GroupIDs      []uint
	Keyword       string
	CookieExpired *bool
	WithGroup     bool
}

// GroupListFilter 查询分组列表的过滤条件
type GroupListFilter struct {
	Page     int
	PageSize int
	IDs      []uint
	Keyword  string
}

// UserListFilter 查询用户列表的过滤条件
type UserListFilter struct {
	Page     int
	PageSize int
	Keyword  string
	Role     string
}

// UserLoginLogListFilter 查询用户登录日志列表的过滤条件
type UserLoginLogListFilter struct {
	Page       int
	PageSize   int
	UserID     uint
	Username   string
	Status     string
	FailReason string
	ClientIP   string
}

// AuthzAuditLogListFilter 查询角色审计日志的过滤条件
type AuthzAuditLogListFilter struct {
	Page           int
	PageSize       int
	OperatorUserID uint
	TargetUserID   uint
	Action         string
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
}
