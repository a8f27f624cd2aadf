package authz

import (
	"fmt"

	"github.com/affdash/internal/constants"
)

// RoleSeed 预置角色定义
type RoleSeed struct {
	Role     string
	Inherits []string
	Policies []Policy
}

// BuiltinRoleSeeds 系统预置角色矩阵
// user 只读账号与报表，可以抓取报表、更新 cookies；数据范围由分组授权在服务层限制
func BuiltinRoleSeeds() []RoleSeed {
	return []RoleSeed{
		{
			Role: constants.RoleUser,
			Policies: []Policy{
				{Object: "/auth/me", Action: "GET"},
				{Object: "/users/:id", Action: "GET"},
				{Object: "/users/:id", Action: "PUT"},
				{Object: "/groups", Action: "GET"},
				{Object: "/groups/:id", Action: "GET"},
				{Object: "/groups/:id/accounts", Action: "GET"},
				{Object: "/accounts", Action: "GET"},
				{Object: "/accounts/:id", Action: "GET"},
				{Object: "/accounts/:id/cookies", Action: "PUT"},
				{Object: "/accounts/:id/test-cookies", Action: "POST"},
				{Object: "/sessions/:accountId", Action: "GET"},
				{Object: "/sessions/:accountId/:sessionId", Action: "GET"},
				{Object: "/reports", Action: "GET"},
				{Object: "/reports/*", Action: "GET"},
				{Object: "/reports/*", Action: "POST"},
			},
		},
		{
			Role:     constants.RoleAdmin,
			Inherits: []string{constants.RoleUser},
			Policies: []Policy{
				{Object: "/*", Action: "*"},
			},
		},
	}
}

// BootstrapBuiltinRoles 初始化预置角色与默认策略
func (s *Service) BootstrapBuiltinRoles() error {
	if s == nil || s.enforcer == nil {
		return fmt.Errorf("authz service unavailable")
	}

	changed := false
	for _, seed := range BuiltinRoleSeeds() {
		role, err := NormalizeRole(seed.Role)
		if err != nil {
			return err
		}

		exists, err := s.enforcer.HasNamedGroupingPolicy("g", role, roleAnchor)
		if err != nil {
			return fmt.Errorf("check builtin role failed: %w", err)
		}
		if !exists {
			added, err := s.enforcer.AddNamedGroupingPolicy("g", role, roleAnchor)
			if err != nil {
				return fmt.Errorf("create builtin role failed: %w", err)
			}
			if added {
				changed = true
			}
		}

		for _, parent := range seed.Inherits {
			parentRole, err := NormalizeRole(parent)
			if err != nil {
				return err
			}
			added, err := s.enforcer.AddNamedGroupingPolicy("g", role, parentRole)
			if err != nil {
				return fmt.Errorf("link role inheritance failed: %w", err)
			}
			if added {
				changed = true
			}
		}

		for _, policy := range seed.Policies {
			action := NormalizeAction(policy.Action)
			if action == "" {
				return fmt.Errorf("builtin policy action is required")
			}
			added, err := s.enforcer.AddPolicy(role, NormalizeObject(policy.Object), action)
			if err != nil {
				return fmt.Errorf("add builtin policy failed: %w", err)
			}
			if added {
				changed = true
			}
		}
	}

	if changed {
		return s.saveAndReload()
	}
	return nil
}

// SyncUserRole 将用户绑定到其内置角色
func (s *Service) SyncUserRole(userID uint, role string) error {
	return s.SetUserRoles(userID, []string{role})
}
