package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/affdash/internal/cache"
	"github.com/affdash/internal/config"
	"github.com/affdash/internal/constants"
	"github.com/affdash/internal/logger"
	"github.com/affdash/internal/models"
	"github.com/affdash/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthService 认证服务
type AuthService struct {
	cfg        *config.Config
	userRepo   repository.UserRepository
	loginLogSv *UserLoginLogService
}

// NewAuthService 创建认证服务实例
func NewAuthService(cfg *config.Config, userRepo repository.UserRepository, loginLogSv *UserLoginLogService) *AuthService {
	return &AuthService{
		cfg:        cfg,
		userRepo:   userRepo,
		loginLogSv: loginLogSv,
	}
}

// HashPassword 使用 bcrypt 加密密码
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword 验证密码
func (s *AuthService) VerifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// ValidatePassword 校验密码是否符合策略
func (s *AuthService) ValidatePassword(password string) error {
	return validatePassword(password)
}

// JWTClaims JWT 声明
type JWTClaims struct {
	UserID       uint   `json:"user_id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	TokenVersion uint64 `json:"token_version"`
	jwt.RegisteredClaims
}

// GenerateJWT 生成 JWT Token
func (s *AuthService) GenerateJWT(user *models.User) (string, time.Time, error) {
	hours := s.cfg.JWT.ExpireHours
	if hours <= 0 {
		hours = 24
	}
	now := time.Now()
	expiresAt := now.Add(time.Duration(hours) * time.Hour)

	claims := JWTClaims{
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		TokenVersion: user.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.cfg.JWT.SecretKey))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// ParseJWT 解析 JWT Token
func (s *AuthService) ParseJWT(tokenString string) (*JWTClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWT.SecretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// LoginInput 登录参数
type LoginInput struct {
	Username  string
	Password  string
	ClientIP  string
	UserAgent string
	RequestID string
}

// Login 用户名密码登录
func (s *AuthService) Login(input LoginInput) (*models.User, string, time.Time, error) {
	username := strings.TrimSpace(input.Username)
	user, err := s.userRepo.GetByUsername(username)
	if err != nil {
		s.recordLogin(input, 0, constants.LoginStatusFailed, constants.LoginFailReasonInternalError)
		return nil, "", time.Time{}, err
	}
	if user == nil {
		s.recordLogin(input, 0, constants.LoginStatusFailed, constants.LoginFailReasonUserNotFound)
		return nil, "", time.Time{}, ErrInvalidCredentials
	}

	if err := s.VerifyPassword(user.PasswordHash, input.Password); err != nil {
		s.recordLogin(input, user.ID, constants.LoginStatusFailed, constants.LoginFailReasonBadPassword)
		return nil, "", time.Time{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.GenerateJWT(user)
	if err != nil {
		s.recordLogin(input, user.ID, constants.LoginStatusFailed, constants.LoginFailReasonInternalError)
		return nil, "", time.Time{}, err
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := s.userRepo.Update(user); err != nil {
		return nil, "", time.Time{}, err
	}
	_ = cache.SetUserAuthState(context.Background(), cache.BuildUserAuthState(user))
	s.recordLogin(input, user.ID, constants.LoginStatusSuccess, "")

	return user, token, expiresAt, nil
}

// ResolveViewer 校验 token 版本并返回访问主体
// 优先读取 Redis 中的鉴权快照，未命中时回源数据库
func (s *AuthService) ResolveViewer(ctx context.Context, claims *JWTClaims) (Viewer, error) {
	if claims == nil || claims.UserID == 0 {
		return Viewer{}, ErrInvalidCredentials
	}
	state, err := cache.GetUserAuthState(ctx, claims.UserID)
	if err != nil {
		logger.Debugw("auth_state_cache_read_failed", "user_id", claims.UserID, "error", err)
	}
	if state == nil {
		user, err := s.userRepo.GetByID(claims.UserID)
		if err != nil {
			return Viewer{}, err
		}
		if user == nil {
			return Viewer{}, ErrUserNotFound
		}
		state = cache.BuildUserAuthState(user)
		_ = cache.SetUserAuthState(ctx, state)
	}
	if state.TokenVersion != claims.TokenVersion {
		return Viewer{}, ErrInvalidCredentials
	}
	return Viewer{
		UserID:   state.UserID,
		Username: state.Username,
		Role:     state.Role,
		GroupIDs: state.GroupIDs,
	}, nil
}

func (s *AuthService) recordLogin(input LoginInput, userID uint, status, reason string) {
	if s.loginLogSv == nil {
		return
	}
	err := s.loginLogSv.Record(RecordUserLoginInput{
		UserID:     userID,
		Username:   input.Username,
		Status:     status,
		FailReason: reason,
		ClientIP:   input.ClientIP,
		UserAgent:  input.UserAgent,
		RequestID:  input.RequestID,
	})
	if err != nil {
		logger.Warnw("user_login_log_record_failed", "username", input.Username, "error", err)
	}
}
