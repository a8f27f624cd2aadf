package service

import (
	"context"
	"errors"
	"testing"

	"github.com/affdash/internal/config"
	"github.com/affdash/internal/constants"
	"github.com/affdash/internal/models"
	"github.com/affdash/internal/repository"
)

func setupUserServiceTest(t *testing.T) (*serviceTestEnv, *AuthService, *UserService, *repository.GormUserLoginLogRepository) {
	t.Helper()
	env := setupServiceTest(t)
	cfg := &config.Config{JWT: config.JWTConfig{SecretKey: "jwt-test-secret", ExpireHours: 1}}
	logRepo := repository.NewUserLoginLogRepository(env.db)
	auth := NewAuthService(cfg, env.userRepo, NewUserLoginLogService(logRepo))
	return env, auth, NewUserService(env.userRepo, env.groupRepo, auth, nil, NewAuthzAuditService(repository.NewAuthzAuditLogRepository(env.db))), logRepo
}

func TestLoginIssuesTokenAndRecordsLog(t *testing.T) {
	env, auth, users, logRepo := setupUserServiceTest(t)
	if err := models.EnsureDefaultAdmin(env.db, "admin", "admin123"); err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}
	group := env.seedGroup(t, "north")
	created, err := users.Create(context.Background(), CreateUserInput{Username: "member", Password: "secret1", GroupIDs: []uint{group.ID, group.ID}}, adminViewer())
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if created.Role != constants.RoleUser || len(created.Groups) != 1 {
		t.Fatalf("unexpected created user: %+v", created)
	}

	if _, _, _, err := auth.Login(LoginInput{Username: "member", Password: "wrong-pass", ClientIP: "10.0.0.1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	user, token, _, err := auth.Login(LoginInput{Username: " member ", Password: "secret1", ClientIP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if user.LastLoginAt == nil {
		t.Fatalf("last login not recorded")
	}

	claims, err := auth.ParseJWT(token)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if claims.UserID != user.ID || claims.Role != constants.RoleUser {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	viewer, err := auth.ResolveViewer(context.Background(), claims)
	if err != nil {
		t.Fatalf("resolve viewer failed: %v", err)
	}
	if !viewer.CanAccessGroup(group.ID) || viewer.IsAdmin() {
		t.Fatalf("unexpected viewer: %+v", viewer)
	}

	logs, total, err := logRepo.List(repository.UserLoginLogListFilter{Username: "member"})
	if err != nil || total != 2 {
		t.Fatalf("expected 2 login logs, total=%d err=%v", total, err)
	}
	statuses := map[string]int{}
	for _, l := range logs {
		statuses[l.Status]++
	}
	if statuses[constants.LoginStatusSuccess] != 1 || statuses[constants.LoginStatusFailed] != 1 {
		t.Fatalf("unexpected login log statuses: %v", statuses)
	}
}

func TestPasswordChangeRevokesTokens(t *testing.T) {
	_, auth, users, _ := setupUserServiceTest(t)
	created, err := users.Create(context.Background(), CreateUserInput{Username: "member", Password: "secret1"}, adminViewer())
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	_, token, _, err := auth.Login(LoginInput{Username: "member", Password: "secret1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	claims, err := auth.ParseJWT(token)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}

	self := Viewer{UserID: created.ID, Role: constants.RoleUser}
	newPassword := "another1"
	if _, err := users.Update(context.Background(), created.ID, UpdateUserInput{Password: &newPassword}, self); err != nil {
		t.Fatalf("self password change failed: %v", err)
	}
	if _, err := auth.ResolveViewer(context.Background(), claims); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old token should be revoked, got %v", err)
	}
}

func TestUserServicePermissions(t *testing.T) {
	_, _, users, _ := setupUserServiceTest(t)
	created, err := users.Create(context.Background(), CreateUserInput{Username: "member", Password: "secret1"}, adminViewer())
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	self := Viewer{UserID: created.ID, Role: constants.RoleUser}
	other := Viewer{UserID: created.ID + 100, Role: constants.RoleUser}

	if _, err := users.Get(created.ID, other); !errors.Is(err, ErrForbidden) {
		t.Fatalf("other user should be forbidden, got %v", err)
	}
	if _, err := users.Get(created.ID, self); err != nil {
		t.Fatalf("self get failed: %v", err)
	}
	role := constants.RoleAdmin
	if _, err := users.Update(context.Background(), created.ID, UpdateUserInput{Role: &role}, self); !errors.Is(err, ErrForbidden) {
		t.Fatalf("self role change should be forbidden, got %v", err)
	}
	if _, err := users.Create(context.Background(), CreateUserInput{Username: "x", Password: "secret1"}, self); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin create should be forbidden, got %v", err)
	}
	if _, err := users.Create(context.Background(), CreateUserInput{Username: "member", Password: "secret1"}, adminViewer()); !errors.Is(err, ErrUsernameExists) {
		t.Fatalf("expected ErrUsernameExists, got %v", err)
	}
	if _, err := users.Create(context.Background(), CreateUserInput{Username: "weak", Password: "123"}, adminViewer()); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := users.Create(context.Background(), CreateUserInput{Username: "bad", Password: "secret1", Role: "root"}, adminViewer()); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := users.Create(context.Background(), CreateUserInput{Username: "orphan", Password: "secret1", GroupIDs: []uint{999}}, adminViewer()); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestDeleteLastAdminRefused(t *testing.T) {
	env, _, users, _ := setupUserServiceTest(t)
	if err := models.EnsureDefaultAdmin(env.db, "admin", "admin123"); err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}
	admin, err := env.userRepo.GetByUsername("admin")
	if err != nil || admin == nil {
		t.Fatalf("load admin failed: %v", err)
	}
	if err := users.Delete(context.Background(), admin.ID, adminViewer()); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("expected ErrLastAdmin, got %v", err)
	}
	role := constants.RoleUser
	if _, err := users.Update(context.Background(), admin.ID, UpdateUserInput{Role: &role}, adminViewer()); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("expected ErrLastAdmin on demotion, got %v", err)
	}

	second, err := users.Create(context.Background(), CreateUserInput{Username: "admin2", Password: "secret1", Role: constants.RoleAdmin}, adminViewer())
	if err != nil {
		t.Fatalf("create second admin failed: %v", err)
	}
	if err := users.Delete(context.Background(), admin.ID, adminViewer()); err != nil {
		t.Fatalf("delete admin with another present failed: %v", err)
	}
	if _, err := users.Get(second.ID, adminViewer()); err != nil {
		t.Fatalf("second admin missing: %v", err)
	}
}

func TestRoleChangesAreAudited(t *testing.T) {
	env, _, users, _ := setupUserServiceTest(t)
	audit := NewAuthzAuditService(repository.NewAuthzAuditLogRepository(env.db))
	if err := models.EnsureDefaultAdmin(env.db, "admin", "admin123"); err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}

	ctx := ContextWithRequestID(context.Background(), "req-1")
	created, err := users.Create(ctx, CreateUserInput{Username: "member", Password: "secret1"}, adminViewer())
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	role := constants.RoleAdmin
	if _, err := users.Update(ctx, created.ID, UpdateUserInput{Role: &role}, adminViewer()); err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	// 密码修改不涉及角色，不产生审计
	password := "another1"
	if _, err := users.Update(ctx, created.ID, UpdateUserInput{Password: &password}, adminViewer()); err != nil {
		t.Fatalf("password change failed: %v", err)
	}
	if err := users.Delete(ctx, created.ID, adminViewer()); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	logs, total, err := audit.List(repository.AuthzAuditLogListFilter{TargetUserID: created.ID}, adminViewer())
	if err != nil {
		t.Fatalf("list audit failed: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 audit entries, got %d", total)
	}
	// 倒序返回
	want := []struct{ action, from, to string }{
		{constants.AuthzAuditActionRoleRevoke, constants.RoleAdmin, ""},
		{constants.AuthzAuditActionRoleChange, constants.RoleUser, constants.RoleAdmin},
		{constants.AuthzAuditActionRoleGrant, "", constants.RoleUser},
	}
	for i, w := range want {
		got := logs[i]
		if got.Action != w.action || got.FromRole != w.from || got.ToRole != w.to {
			t.Fatalf("entry %d mismatch: %+v", i, got)
		}
		if got.OperatorUsername != "admin" || got.TargetUsername != "member" || got.RequestID != "req-1" {
			t.Fatalf("entry %d metadata mismatch: %+v", i, got)
		}
	}

	if _, _, err := audit.List(repository.AuthzAuditLogListFilter{}, userViewer()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin audit list should be forbidden, got %v", err)
	}
}
