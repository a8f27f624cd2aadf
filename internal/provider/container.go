package provider

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/affdash/internal/authz"
	"github.com/affdash/internal/cache"
	"github.com/affdash/internal/config"
	"github.com/affdash/internal/cookiecrypt"
	"github.com/affdash/internal/fetcher"
	"github.com/affdash/internal/logger"
	"github.com/affdash/internal/models"
	"github.com/affdash/internal/queue"
	"github.com/affdash/internal/reportcache"
	"github.com/affdash/internal/repository"
	"github.com/affdash/internal/service"
	"github.com/affdash/internal/upstream"
)

// Container 依赖注入容器
type Container struct {
	Config   *config.Config
	Location *time.Location

	// Infrastructure
	Upstream    *upstream.Client
	Fetcher     *fetcher.Fetcher
	Cipher      *cookiecrypt.Cipher
	ReportCache reportcache.Store
	JobStore    queue.JobStore
	JobQueue    queue.JobQueue
	FetchRunner *queue.Runner

	// 任务状态专用的 Redis 连接，仅队列启用时存在
	queueStateClient io.Closer

	// Repositories
	AccountRepo      repository.AccountRepository
	GroupRepo        repository.GroupRepository
	UserRepo         repository.UserRepository
	UserLoginLogRepo repository.UserLoginLogRepository
	AuthzAuditRepo   repository.AuthzAuditLogRepository

	// Services
	AuthzService        *authz.Service
	AuthService         *service.AuthService
	UserService         *service.UserService
	UserLoginLogService *service.UserLoginLogService
	AuthzAuditService   *service.AuthzAuditService
	GroupService        *service.GroupService
	AccountService      *service.AccountService
	SessionService      *service.SessionService
	FetchProcessor      *service.FetchProcessor
	ReportService       *service.ReportService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) (*Container, error) {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	c := &Container{
		Config:   cfg,
		Location: cfg.Provider.Location(),
	}

	// 1. 初始化基础设施
	if err := c.initInfrastructure(); err != nil {
		return nil, err
	}

	// 2. 初始化 Repositories
	c.initRepositories()

	// 3. 初始化 Services
	if err := c.initServices(); err != nil {
		return nil, err
	}

	// 4. 初始化队列（依赖抓取处理器）
	if err := c.initQueue(); err != nil {
		return nil, err
	}
	c.ReportService = service.NewReportService(c.AccountRepo, c.JobQueue, c.ReportCache, c.Fetcher, c.Upstream, c.Cipher, c.Location)

	return c, nil
}

func (c *Container) initInfrastructure() error {
	cfg := c.Config
	c.Upstream = upstream.New(upstream.Options{
		AffiliateBaseURL: cfg.Provider.AffiliateBaseURL,
		CreatorBaseURL:   cfg.Provider.CreatorBaseURL,
		Timeout:          time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
		Location:         c.Location,
		UserAgent:        cfg.Provider.UserAgent,
		AuthErrorCodes:   cfg.Provider.AuthErrorCodes,
	})
	c.Fetcher = fetcher.New(c.Upstream, fetcher.Options{
		PageSize:       cfg.Fetch.PageSize,
		Concurrency:    cfg.Fetch.PageConcurrency,
		MaxAttempts:    cfg.Fetch.PageAttempts,
		RetryDelay:     time.Duration(cfg.Fetch.RetryDelayMS) * time.Millisecond,
		BatchDelayBase: time.Duration(cfg.Fetch.BatchDelayBaseMS) * time.Millisecond,
		BatchDelayStep: time.Duration(cfg.Fetch.BatchDelayStepMS) * time.Millisecond,
		BatchDelayMax:  time.Duration(cfg.Fetch.BatchDelayMaxMS) * time.Millisecond,
	})

	cipher, err := cookiecrypt.New(cfg.Security.CookieSecret)
	if err != nil {
		logger.Errorw("provider_init_cookie_cipher_failed", "error", err)
		return fmt.Errorf("init cookie cipher: %w", err)
	}
	c.Cipher = cipher

	var redisClient = cache.Client()
	store, err := reportcache.Open(context.Background(), cfg.Cache, redisClient, cache.Prefix())
	if err != nil {
		logger.Errorw("provider_init_report_cache_failed", "driver", cfg.Cache.Driver, "error", err)
		return fmt.Errorf("init report cache: %w", err)
	}
	c.ReportCache = store
	return nil
}

func (c *Container) initRepositories() {
	db := models.DB
	c.AccountRepo = repository.NewAccountRepository(db)
	c.GroupRepo = repository.NewGroupRepository(db)
	c.UserRepo = repository.NewUserRepository(db)
	c.UserLoginLogRepo = repository.NewUserLoginLogRepository(db)
	c.AuthzAuditRepo = repository.NewAuthzAuditLogRepository(db)
}

func (c *Container) initServices() error {
	authzService, err := authz.NewService(models.DB)
	if err != nil {
		logger.Errorw("provider_init_authz_failed", "error", err)
		return err
	}
	c.AuthzService = authzService
	if err := c.AuthzService.BootstrapBuiltinRoles(); err != nil {
		logger.Errorw("provider_bootstrap_builtin_roles_failed", "error", err)
		return err
	}
	if err := c.syncUserRoles(); err != nil {
		logger.Errorw("provider_sync_user_roles_failed", "error", err)
		return err
	}

	c.UserLoginLogService = service.NewUserLoginLogService(c.UserLoginLogRepo)
	c.AuthzAuditService = service.NewAuthzAuditService(c.AuthzAuditRepo)
	c.AuthService = service.NewAuthService(c.Config, c.UserRepo, c.UserLoginLogService)
	c.UserService = service.NewUserService(c.UserRepo, c.GroupRepo, c.AuthService, c.AuthzService, c.AuthzAuditService)
	c.GroupService = service.NewGroupService(c.GroupRepo, c.AccountRepo)
	c.AccountService = service.NewAccountService(c.AccountRepo, c.GroupRepo, c.Cipher, c.Upstream, c.ReportCache)
	c.SessionService = service.NewSessionService(c.AccountRepo, c.Cipher, c.Upstream)
	c.FetchProcessor = service.NewFetchProcessor(c.AccountRepo, c.Cipher, c.Fetcher, c.ReportCache, c.Location)
	return nil
}

// initQueue 队列启用时使用 asynq + Redis 任务状态，否则使用进程内队列
func (c *Container) initQueue() error {
	opts := queue.OptionsFromConfig(&c.Config.Queue)
	if !c.Config.Queue.Enabled {
		store := queue.NewMemoryJobStore(opts.RetainCompleted, opts.RetainFailed)
		c.JobStore = store
		c.FetchRunner = queue.NewRunner(store, c.FetchProcessor)
		c.JobQueue = queue.NewMemoryQueue(store, c.FetchProcessor, opts)
		logger.Infow("provider_queue_in_process", "concurrency", opts.Concurrency)
		return nil
	}

	stateClient := cache.NewClient(c.Config.Queue.Host, c.Config.Queue.Port, c.Config.Queue.Password, c.Config.Queue.DB)
	store := queue.NewRedisJobStore(stateClient, c.Config.Redis.Prefix, opts.RetainCompleted, opts.RetainFailed)
	client, err := queue.NewClient(&c.Config.Queue, store)
	if err != nil {
		_ = stateClient.Close()
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		return err
	}
	c.queueStateClient = stateClient
	c.JobStore = store
	c.JobQueue = client
	c.FetchRunner = queue.NewRunner(store, c.FetchProcessor)
	return nil
}

// syncUserRoles 启动时按用户表的角色字段重建授权绑定
func (c *Container) syncUserRoles() error {
	users, _, err := c.UserRepo.List(repository.UserListFilter{})
	if err != nil {
		return err
	}
	for _, user := range users {
		if err := c.AuthzService.SyncUserRole(user.ID, user.Role); err != nil {
			return err
		}
	}
	return nil
}

// Close 释放队列与 Redis 连接
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var queueErr error
	if c.JobQueue != nil {
		queueErr = c.JobQueue.Close()
	}
	if c.queueStateClient != nil {
		if err := c.queueStateClient.Close(); err != nil {
			logger.Warnw("provider_close_queue_state_failed", "error", err)
		}
		c.queueStateClient = nil
	}
	if err := cache.Close(); err != nil {
		logger.Warnw("provider_close_redis_failed", "error", err)
	}
	return queueErr
}
