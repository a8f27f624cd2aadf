package reportcache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// redisBackend 字符串键 <prefix>:reports:<uid>:<start>_<end>，另维护每个用户的键集合
type redisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 创建 Redis 缓存
func NewRedisStore(client *redis.Client, prefix string) Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "affdash"
	}
	return newStore(&redisBackend{client: client, prefix: prefix})
}

func (b *redisBackend) recordKey(key Key) string {
	return fmt.Sprintf("%s:%s:%s:%s", b.prefix, reportsDirName, key.UserSegment(), key.Name())
}

func (b *redisBackend) indexKey(externalUserID int64) string {
	return fmt.Sprintf("%s:%s:%d:keys", b.prefix, reportsDirName, externalUserID)
}

func (b *redisBackend) exists(ctx context.Context, key Key) (bool, error) {
	n, err := b.client.Exists(ctx, b.recordKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *redisBackend) load(ctx context.Context, key Key) ([]byte, bool, error) {
	payload, err := b.client.Get(ctx, b.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (b *redisBackend) save(ctx context.Context, key Key, payload []byte) error {
	recordKey := b.recordKey(key)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey, payload, 0)
		pipe.SAdd(ctx, b.indexKey(key.ExternalUserID), recordKey)
		return nil
	})
	return err
}

func (b *redisBackend) remove(ctx context.Context, key Key) error {
	recordKey := b.recordKey(key)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKey)
		pipe.SRem(ctx, b.indexKey(key.ExternalUserID), recordKey)
		return nil
	})
	return err
}

func (b *redisBackend) removeUser(ctx context.Context, externalUserID int64) error {
	indexKey := b.indexKey(externalUserID)
	members, err := b.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return err
	}
	keys := append(members, indexKey)
	return b.client.Del(ctx, keys...).Err()
}
