package reportcache

import (
	"context"
	"fmt"
	"strings"

	"github.com/affdash/internal/config"

	"github.com/redis/go-redis/v9"
)

// 缓存驱动
const (
	DriverFile  = "file"
	DriverRedis = "redis"
	DriverMinio = "minio"
)

// Open 按配置创建缓存存储
func Open(ctx context.Context, cfg config.CacheConfig, redisClient *redis.Client, redisPrefix string) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", DriverFile:
		return NewFileStore(cfg.Dir), nil
	case DriverRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("%w: redis driver requires redis.enabled", ErrDriverNotFound)
		}
		return NewRedisStore(redisClient, redisPrefix), nil
	case DriverMinio:
		return NewMinioStore(ctx, cfg.Minio)
	default:
		return nil, fmt.Errorf("%w: %s", ErrDriverNotFound, driver)
	}
}
