package dashboard

import (
	"github.com/affdash/internal/provider"
)

// Handler 登录后的看板接口处理器
// 路由级权限由 RBAC 中间件控制，数据范围由服务层按分组限制
type Handler struct {
	*provider.Container
}

// New 创建看板处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
