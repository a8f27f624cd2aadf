package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/affdash/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Provider ProviderConfig `mapstructure:"provider"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		Level:      c.Level,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // sqlite / postgres
	DSN    string             `mapstructure:"dsn"`
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// JWTConfig JWT 配置
type JWTConfig struct {
	SecretKey   string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 抓取任务队列配置
// Enabled=false 时使用进程内队列（无持久化）
type QueueConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	Password         string `mapstructure:"password"`
	DB               int    `mapstructure:"db"`
	Name             string `mapstructure:"name"`
	Concurrency      int    `mapstructure:"concurrency"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BackoffBaseMS    int    `mapstructure:"backoff_base_ms"`
	RetainCompleted  int    `mapstructure:"retain_completed"`
	RetainFailed     int    `mapstructure:"retain_failed"`
	AccountLockTTLMS int    `mapstructure:"account_lock_ttl_ms"`
}

// CacheConfig 报表缓存配置
type CacheConfig struct {
	Driver string      `mapstructure:"driver"` // file / redis / minio
	Dir    string      `mapstructure:"dir"`
	Minio  MinioConfig `mapstructure:"minio"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	Secure     bool   `mapstructure:"secure"`
}

// ProviderConfig 上游联盟平台配置
type ProviderConfig struct {
	AffiliateBaseURL    string  `mapstructure:"affiliate_base_url"`
	CreatorBaseURL      string  `mapstructure:"creator_base_url"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
	TimezoneOffsetHours int     `mapstructure:"timezone_offset_hours"`
	UserAgent           string  `mapstructure:"user_agent"`
	AuthErrorCodes      []int64 `mapstructure:"auth_error_codes"`
}

// Location 平台日界线使用的固定时区
func (c ProviderConfig) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", c.TimezoneOffsetHours), c.TimezoneOffsetHours*3600)
}

// FetchConfig 分页抓取配置
type FetchConfig struct {
	PageSize         int `mapstructure:"page_size"`
	PageConcurrency  int `mapstructure:"page_concurrency"`
	PageAttempts     int `mapstructure:"page_attempts"`
	RetryDelayMS     int `mapstructure:"retry_delay_ms"`
	BatchDelayBaseMS int `mapstructure:"batch_delay_base_ms"`
	BatchDelayStepMS int `mapstructure:"batch_delay_step_ms"`
	BatchDelayMaxMS  int `mapstructure:"batch_delay_max_ms"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	CookieSecret   string               `mapstructure:"cookie_secret"`
	LoginRateLimit LoginRateLimitConfig `mapstructure:"login_rate_limit"`
}

// LoginRateLimitConfig 登录限流配置
type LoginRateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxAttempts   int `mapstructure:"max_attempts"`
}

// SetDefaults 写入默认配置
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "affdash.log")
	v.SetDefault("log.level", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/affdash.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "affdash")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.name", "report-fetch")
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base_ms", 1000)
	v.SetDefault("queue.retain_completed", 100)
	v.SetDefault("queue.retain_failed", 100)
	v.SetDefault("queue.account_lock_ttl_ms", 30*60*1000)
	v.SetDefault("cache.driver", "file")
	v.SetDefault("cache.dir", "./cache")
	v.SetDefault("cache.minio.bucket_name", "affdash-reports")
	v.SetDefault("provider.affiliate_base_url", "https://affiliate.shopee.vn/api")
	v.SetDefault("provider.creator_base_url", "https://creator.shopee.vn/supply/api")
	v.SetDefault("provider.timeout_seconds", 30)
	v.SetDefault("provider.timezone_offset_hours", 7)
	v.SetDefault("provider.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36")
	v.SetDefault("provider.auth_error_codes", []int64{})
	v.SetDefault("fetch.page_size", 500)
	v.SetDefault("fetch.page_concurrency", 5)
	v.SetDefault("fetch.page_attempts", 3)
	v.SetDefault("fetch.retry_delay_ms", 2000)
	v.SetDefault("fetch.batch_delay_base_ms", 1000)
	v.SetDefault("fetch.batch_delay_step_ms", 100)
	v.SetDefault("fetch.batch_delay_max_ms", 2000)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"Cache-Control",
		"X-Requested-With",
	})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("security.cookie_secret", "")
	v.SetDefault("security.login_rate_limit.window_seconds", 300)
	v.SetDefault("security.login_rate_limit.max_attempts", 10)
}

// Load 从 config.yml 加载配置
func Load() *Config {
	v := viper.GetViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../")
	v.AddConfigPath("./etc")

	SetDefaults(v)

	// 环境变量支持，例如 queue.concurrency -> QUEUE_CONCURRENCY
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	cfg, err := Decode(v)
	if err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	return cfg
}

// Decode 将 viper 中的配置解析为结构体
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
