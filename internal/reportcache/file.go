package reportcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const reportsDirName = "reports"

// fileBackend 目录结构 <dir>/reports/<uid>/<start>_<end>.json
type fileBackend struct {
	root string
}

// NewFileStore 创建文件缓存
func NewFileStore(dir string) Store {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "./cache"
	}
	return newStore(&fileBackend{root: filepath.Join(dir, reportsDirName)})
}

func (b *fileBackend) userDir(externalUserID int64) string {
	return filepath.Join(b.root, strconv.FormatInt(externalUserID, 10))
}

func (b *fileBackend) path(key Key) string {
	return filepath.Join(b.root, key.UserSegment(), key.Name()+".json")
}

func (b *fileBackend) exists(_ context.Context, key Key) (bool, error) {
	info, err := os.Stat(b.path(key))
	if err == nil {
		return !info.IsDir(), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (b *fileBackend) load(_ context.Context, key Key) ([]byte, bool, error) {
	payload, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

// save 先写临时文件再 rename，读方不会看到半截内容
func (b *fileBackend) save(_ context.Context, key Key, payload []byte) error {
	dir := b.userDir(key.ExternalUserID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir failed: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+key.Name()+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file failed: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp cache file failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp cache file failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp cache file failed: %w", err)
	}
	if err := os.Rename(tmpName, b.path(key)); err != nil {
		cleanup()
		return fmt.Errorf("rename cache file failed: %w", err)
	}
	return nil
}

func (b *fileBackend) remove(_ context.Context, key Key) error {
	if err := os.Remove(b.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// removeUser 删除用户目录下全部 .json 记录
func (b *fileBackend) removeUser(_ context.Context, externalUserID int64) error {
	dir := b.userDir(externalUserID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
