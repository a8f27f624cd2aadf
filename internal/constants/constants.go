package constants

// 用户角色
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// 报表渠道
const (
	ChannelAll        int64 = 0
	ChannelSocial     int64 = 1
	ChannelVideo      int64 = 2
	ChannelLivestream int64 = 3
)

// 抓取任务状态
const (
	JobStateWaiting   = "waiting"
	JobStateActive    = "active"
	JobStateCompleted = "completed"
	JobStateFailed    = "failed"
)

// 抓取进度检查点
const (
	ProgressStarted       = 5
	ProgressCookiesValid  = 10
	ProgressFetchStarted  = 20
	ProgressFetchFinished = 80
	ProgressCacheCleared  = 90
	ProgressDone          = 100
)

// 登录结果
const (
	LoginStatusSuccess = "success"
	LoginStatusFailed  = "failed"
)

// 登录失败原因
const (
	LoginFailReasonUserNotFound  = "user_not_found"
	LoginFailReasonBadPassword   = "bad_password"
	LoginFailReasonInternalError = "internal_error"
)

// 角色审计动作
const (
	AuthzAuditActionRoleGrant  = "role_grant"
	AuthzAuditActionRoleChange = "role_change"
	AuthzAuditActionRoleRevoke = "role_revoke"
)

// DateLayout 请求中的日期格式
const DateLayout = "2006-01-02"
