package reportcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/affdash/internal/upstream"

	"golang.org/x/sync/singleflight"
)

const dateLayout = "2006-01-02"

var (
	ErrInvalidKey     = errors.New("invalid report cache key")
	ErrRecordCorrupt  = errors.New("report cache record corrupt")
	ErrDriverNotFound = errors.New("report cache driver not supported")
)

// Params 缓存记录对应的抓取参数
type Params struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	ChannelID int64  `json:"channelId"`
}

// Record 单个账号单个日期区间的报表快照
type Record struct {
	Data   []upstream.CommissionRecord `json:"data"`
	Params Params                      `json:"params"`
}

// Store 报表缓存，按 (externalUserID, startDate, endDate) 定位
type Store interface {
	Exists(ctx context.Context, externalUserID int64, startDate, endDate string) (bool, error)
	// Read 不存在时返回 nil, nil
	Read(ctx context.Context, externalUserID int64, startDate, endDate string) (*Record, error)
	Write(ctx context.Context, externalUserID int64, startDate, endDate string, record *Record) error
	Delete(ctx context.Context, externalUserID int64, startDate, endDate string) error
	DeleteAllForUser(ctx context.Context, externalUserID int64) error
}

// Key 缓存键
type Key struct {
	ExternalUserID int64
	StartDate      string
	EndDate        string
}

// NewKey 校验并构建缓存键
func NewKey(externalUserID int64, startDate, endDate string) (Key, error) {
	if externalUserID <= 0 {
		return Key{}, fmt.Errorf("%w: external user id %d", ErrInvalidKey, externalUserID)
	}
	if _, err := time.Parse(dateLayout, startDate); err != nil {
		return Key{}, fmt.Errorf("%w: start date %q", ErrInvalidKey, startDate)
	}
	if _, err := time.Parse(dateLayout, endDate); err != nil {
		return Key{}, fmt.Errorf("%w: end date %q", ErrInvalidKey, endDate)
	}
	return Key{ExternalUserID: externalUserID, StartDate: startDate, EndDate: endDate}, nil
}

// UserSegment 用户目录名
func (k Key) UserSegment() string {
	return strconv.FormatInt(k.ExternalUserID, 10)
}

// Name 日期区间文件名主体
func (k Key) Name() string {
	return k.StartDate + "_" + k.EndDate
}

func (k Key) String() string {
	return k.UserSegment() + "/" + k.Name()
}

// backend 负责原始字节的存取
type backend interface {
	exists(ctx context.Context, key Key) (bool, error)
	// load 不存在时返回 nil, false, nil
	load(ctx context.Context, key Key) ([]byte, bool, error)
	save(ctx context.Context, key Key, payload []byte) error
	remove(ctx context.Context, key Key) error
	removeUser(ctx context.Context, externalUserID int64) error
}

// store 统一处理编解码与读合并
type store struct {
	backend backend
	reads   singleflight.Group
}

func newStore(b backend) *store {
	return &store{backend: b}
}

func (s *store) Exists(ctx context.Context, externalUserID int64, startDate, endDate string) (bool, error) {
	key, err := NewKey(externalUserID, startDate, endDate)
	if err != nil {
		return false, err
	}
	return s.backend.exists(ctx, key)
}

func (s *store) Read(ctx context.Context, externalUserID int64, startDate, endDate string) (*Record, error) {
	key, err := NewKey(externalUserID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	v, err, _ := s.reads.Do(key.String(), func() (interface{}, error) {
		payload, found, err := s.backend.load(ctx, key)
		if err != nil || !found {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	payload, _ := v.([]byte)
	if payload == nil {
		return nil, nil
	}
	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRecordCorrupt, key, err)
	}
	if record.Data == nil {
		record.Data = []upstream.CommissionRecord{}
	}
	return &record, nil
}

func (s *store) Write(ctx context.Context, externalUserID int64, startDate, endDate string, record *Record) error {
	key, err := NewKey(externalUserID, startDate, endDate)
	if err != nil {
		return err
	}
	if record == nil {
		record = &Record{}
	}
	if record.Data == nil {
		record.Data = []upstream.CommissionRecord{}
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.backend.save(ctx, key, payload)
}

func (s *store) Delete(ctx context.Context, externalUserID int64, startDate, endDate string) error {
	key, err := NewKey(externalUserID, startDate, endDate)
	if err != nil {
		return err
	}
	return s.backend.remove(ctx, key)
}

func (s *store) DeleteAllForUser(ctx context.Context, externalUserID int64) error {
	if externalUserID <= 0 {
		return fmt.Errorf("%w: external user id %d", ErrInvalidKey, externalUserID)
	}
	return s.backend.removeUser(ctx, externalUserID)
}
