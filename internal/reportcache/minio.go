package reportcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/affdash/internal/config"
	"github.com/affdash/internal/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const noSuchKeyCode = "NoSuchKey"

// minioBackend 对象键 reports/<uid>/<start>_<end>.json
type minioBackend struct {
	client *minio.Client
	bucket string
}

// NewMinioStore 创建对象存储缓存，桶不存在时自动创建
func NewMinioStore(ctx context.Context, cfg config.MinioConfig) (Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client failed: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("check minio bucket failed: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create minio bucket failed: %w", err)
		}
	}
	logger.Infow("report_cache_minio_ready",
		"endpoint", cfg.Endpoint,
		"bucket", cfg.BucketName,
		"bucket_created", !exists,
	)
	return newStore(&minioBackend{client: client, bucket: cfg.BucketName}), nil
}

func (b *minioBackend) objectKey(key Key) string {
	return path.Join(reportsDirName, key.UserSegment(), key.Name()+".json")
}

func (b *minioBackend) userPrefix(externalUserID int64) string {
	return path.Join(reportsDirName, strconv.FormatInt(externalUserID, 10)) + "/"
}

func (b *minioBackend) exists(ctx context.Context, key Key) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, b.objectKey(key), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == noSuchKeyCode {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *minioBackend) load(ctx context.Context, key Key) ([]byte, bool, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, false, err
	}
	defer obj.Close()
	payload, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == noSuchKeyCode {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (b *minioBackend) save(ctx context.Context, key Key, payload []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, b.objectKey(key), bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

func (b *minioBackend) remove(ctx context.Context, key Key) error {
	return b.client.RemoveObject(ctx, b.bucket, b.objectKey(key), minio.RemoveObjectOptions{})
}

func (b *minioBackend) removeUser(ctx context.Context, externalUserID int64) error {
	// 提前返回时取消 ctx，让列举协程退出
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	objects := b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    b.userPrefix(externalUserID),
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return obj.Err
		}
		if path.Ext(obj.Key) != ".json" {
			continue
		}
		if err := b.client.RemoveObject(ctx, b.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return err
		}
	}
	return nil
}
