package public

import "github.com/affdash/internal/provider"

// Handler 无需登录的接口处理器
type Handler struct {
	*provider.Container
}

// New 创建公开接口处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
