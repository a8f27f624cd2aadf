package router

import (
	"fmt"
	"strings"

	"github.com/affdash/internal/cache"
	"github.com/affdash/internal/config"
	dashboardhandlers "github.com/affdash/internal/http/handlers/dashboard"
	publichandlers "github.com/affdash/internal/http/handlers/public"
	"github.com/affdash/internal/http/response"
	"github.com/affdash/internal/logger"
	"github.com/affdash/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	dashboardHandler := dashboardhandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "affdash"
	}
	loginRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:login", redisPrefix),
		WindowSeconds: cfg.Security.LoginRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.LoginRateLimit.MaxAttempts,
		Message:       "too many login attempts, retry in %d seconds",
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	r.NoRoute(func(ctx *gin.Context) {
		response.NotFound(ctx, "route not found")
	})

	apiV1 := r.Group("/api/v1")
	apiV1.GET("/health", publicHandler.Health)
	apiV1.POST("/auth/login", RateLimitMiddleware(cache.Client(), loginRule, KeyByIPAndJSONField("username")), publicHandler.Login)

	authed := apiV1.Group("")
	authed.Use(JWTAuthMiddleware(c.AuthService), RBACMiddleware(c.AuthzService))
	registerDashboardRoutes(authed, dashboardHandler)

	return r
}

func registerDashboardRoutes(api *gin.RouterGroup, h *dashboardhandlers.Handler) {
	api.GET("/auth/me", h.GetMe)

	users := api.Group("/users")
	{
		users.GET("", h.ListUsers)
		users.POST("", h.CreateUser)
		users.GET("/login-logs", h.ListLoginLogs)
		users.GET("/role-audits", h.ListRoleAudits)
		users.GET("/:id", h.GetUser)
		users.PUT("/:id", h.UpdateUser)
		users.DELETE("/:id", h.DeleteUser)
	}

	groups := api.Group("/groups")
	{
		groups.GET("", h.ListGroups)
		groups.POST("", h.CreateGroup)
		groups.GET("/:id", h.GetGroup)
		groups.PUT("/:id", h.UpdateGroup)
		groups.DELETE("/:id", h.DeleteGroup)
		groups.GET("/:id/accounts", h.ListGroupAccounts)
	}

	accounts := api.Group("/accounts")
	{
		accounts.GET("", h.ListAccounts)
		accounts.POST("", h.CreateAccount)
		accounts.GET("/:id", h.GetAccount)
		accounts.PUT("/:id/cookies", h.UpdateAccountCookies)
		accounts.PUT("/:id/group", h.ChangeAccountGroup)
		accounts.POST("/:id/test-cookies", h.TestAccountCookies)
		accounts.DELETE("/:id", h.DeleteAccount)
	}

	sessions := api.Group("/sessions")
	{
		sessions.GET("/:accountId", h.ListSessions)
		sessions.GET("/:accountId/:sessionId", h.GetSessionDetail)
	}

	reports := api.Group("/reports")
	{
		reports.GET("", h.GetReports)
		reports.GET("/export", h.ExportReports)
		reports.GET("/channels", h.GetChannels)
		reports.POST("/fetch", h.FetchReports)
		reports.GET("/fetch-results", h.GetFetchResults)
		reports.GET("/fetch-status", h.GetFetchStatus)
		reports.POST("/conversion", h.FetchConversion)
		reports.POST("/settlement", h.FetchSettlement)
		reports.POST("/settlement-periods", h.FetchSettlementPeriods)
	}
}
