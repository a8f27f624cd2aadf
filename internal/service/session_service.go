package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/affdash/internal/cookiecrypt"
	"github.com/affdash/internal/logger"
	"github.com/affdash/internal/models"
	"github.com/affdash/internal/repository"
	"github.com/affdash/internal/upstream"

	"github.com/tidwall/gjson"
)

// SessionClient 直播场次接口
type SessionClient interface {
	FetchSessionList(ctx context.Context, cookies string, page, pageSize int) (*upstream.CreatorResponse, error)
	FetchSessionDetail(ctx context.Context, cookies string, sessionID string) (*upstream.CreatorResponse, error)
}

// RejectedError 上游返回非 0 业务码
type RejectedError struct {
	Code    int64
	Message string
}

func (e *RejectedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown"
	}
	return fmt.Sprintf("upstream rejected request: %s (code %d)", msg, e.Code)
}

// Is 匹配 ErrUpstreamRejected
func (e *RejectedError) Is(target error) bool {
	return target == ErrUpstreamRejected
}

// SessionService 直播场次查询
type SessionService struct {
	accountRepo repository.AccountRepository
	cipher      *cookiecrypt.Cipher
	client      SessionClient
	now         func() time.Time
}

// NewSessionService 创建场次服务
func NewSessionService(accountRepo repository.AccountRepository, cipher *cookiecrypt.Cipher, client SessionClient) *SessionService {
	return &SessionService{
		accountRepo: accountRepo,
		cipher:      cipher,
		client:      client,
		now:         time.Now,
	}
}

// SessionList 场次列表
type SessionList struct {
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	Limit    int             `json:"limit"`
	Sessions json.RawMessage `json:"sessions"`
}

// SessionBasicInfo 场次基础信息
type SessionBasicInfo struct {
	Title     string `json:"title"`
	Status    int64  `json:"status"`
	StartTime int64  `json:"start_time"`
	EndTime   *int64 `json:"end_time"`
}

// SessionDetail 场次概览
type SessionDetail struct {
	BasicInfo            SessionBasicInfo `json:"basic_info"`
	ViewCount            int64            `json:"view_count"`
	LikeCount            int64            `json:"like_count"`
	CommentCount         int64            `json:"comment_count"`
	NewFollowerCount     int64            `json:"new_follower_count"`
	OrderCount           int64            `json:"order_count"`
	ConfirmedOrderCount  int64            `json:"confirmed_order_count"`
	GMV                  float64          `json:"gmv"`
	ConfirmedGMV         float64          `json:"confirmed_gmv"`
	PlacedItemsSold      int64            `json:"placed_items_sold"`
	ConfirmedItemsSold   int64            `json:"confirmed_items_sold"`
	Viewers              int64            `json:"viewers"`
	PCU                  int64            `json:"pcu"`
	ATC                  int64            `json:"atc"`
	CTR                  float64          `json:"ctr"`
	CO                   float64          `json:"co"`
	ConfirmedCO          float64          `json:"confirmed_co"`
	AvgViewTime          int64            `json:"avg_view_time"`
	FormattedAvgViewTime string           `json:"formatted_avg_view_time"`
	LiveViewers          int64            `json:"live_viewers"`
	CommentsLastMinute   int64            `json:"comments_last_minute"`
	ATCLastMinute        int64            `json:"atc_last_minute"`
	Buyers               int64            `json:"buyers"`
	ConfirmedBuyers      int64            `json:"confirmed_buyers"`
	EngagedViewers       int64            `json:"engaged_viewers"`
	RawData              json.RawMessage  `json:"raw_data"`
}

// List 拉取账号的直播场次
func (s *SessionService) List(ctx context.Context, accountID uint, page, limit int, viewer Viewer) (*SessionList, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	account, cookies, err := s.loadAccount(accountID, viewer)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.FetchSessionList(ctx, cookies, page, limit)
	if err := s.settle(account, resp, err); err != nil {
		return nil, err
	}

	data := gjson.ParseBytes(resp.Data)
	sessions := json.RawMessage("[]")
	if list := data.Get("list"); list.IsArray() {
		sessions = json.RawMessage(list.Raw)
	}
	return &SessionList{
		Total:    data.Get("total").Int(),
		Page:     page,
		Limit:    limit,
		Sessions: sessions,
	}, nil
}

// Detail 拉取单场概览并整理成展示结构
func (s *SessionService) Detail(ctx context.Context, accountID uint, sessionID string, viewer Viewer) (*SessionDetail, error) {
	account, cookies, err := s.loadAccount(accountID, viewer)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.FetchSessionDetail(ctx, cookies, sessionID)
	if err := s.settle(account, resp, err); err != nil {
		return nil, err
	}
	return buildSessionDetail(sessionID, resp.Data, s.now()), nil
}

// settle 根据结果同步 cookies 失效标记
// 传输错误与非 0 业务码都视为 cookies 失效
func (s *SessionService) settle(account *models.Account, resp *upstream.CreatorResponse, err error) error {
	if err == nil && !resp.OK() {
		err = &RejectedError{Code: resp.Code, Message: resp.Message}
	}
	s.setExpired(account, err != nil)
	return err
}

func (s *SessionService) setExpired(account *models.Account, expired bool) {
	if account.CookieExpired == expired {
		return
	}
	if err := s.accountRepo.SetCookieExpired(account.ID, expired); err != nil {
		logger.Warnw("account_cookie_state_update_failed", "account_id", account.ID, "expired", expired, "error", err)
		return
	}
	account.CookieExpired = expired
}

func (s *SessionService) loadAccount(accountID uint, viewer Viewer) (*models.Account, string, error) {
	account, err := s.accountRepo.GetByID(accountID)
	if err != nil {
		return nil, "", err
	}
	if account == nil {
		return nil, "", ErrAccountNotFound
	}
	if !viewer.CanAccessAccount(account) {
		return nil, "", ErrForbidden
	}
	cookies, err := s.cipher.Decrypt(account.CookiesCipher)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", upstream.ErrInvalidCookies, err)
	}
	return account, cookies, nil
}

func buildSessionDetail(sessionID string, raw json.RawMessage, now time.Time) *SessionDetail {
	data := gjson.ParseBytes(raw)
	avgViewMs := data.Get("avgViewTime").Int()
	avgViewSec := avgViewMs / 1000
	status := data.Get("status").Int()

	basic := SessionBasicInfo{
		Title:     "Phiên livestream #" + strings.TrimSpace(sessionID),
		Status:    status,
		StartTime: now.Unix() - avgViewSec,
	}
	if status == 1 {
		end := now.Unix()
		basic.EndTime = &end
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	return &SessionDetail{
		BasicInfo:            basic,
		ViewCount:            data.Get("views").Int(),
		LikeCount:            data.Get("engagementData.likes").Int(),
		CommentCount:         data.Get("engagementData.comments").Int(),
		NewFollowerCount:     data.Get("engagementData.newFollowers").Int(),
		OrderCount:           data.Get("placedOrder").Int(),
		ConfirmedOrderCount:  data.Get("confirmedOrder").Int(),
		GMV:                  data.Get("placedGmv").Float(),
		ConfirmedGMV:         data.Get("confirmedGmv").Float(),
		PlacedItemsSold:      data.Get("placedItemsSold").Int(),
		ConfirmedItemsSold:   data.Get("confirmedItemsSold").Int(),
		Viewers:              data.Get("viewers").Int(),
		PCU:                  data.Get("pcu").Int(),
		ATC:                  data.Get("atc").Int(),
		CTR:                  data.Get("ctr").Float(),
		CO:                   data.Get("co").Float(),
		ConfirmedCO:          data.Get("confirmedCo").Float(),
		AvgViewTime:          avgViewMs,
		FormattedAvgViewTime: formatClock(avgViewSec),
		LiveViewers:          data.Get("ccu").Int(),
		CommentsLastMinute:   data.Get("commentsWhithinLastOneMinute").Int(),
		ATCLastMinute:        data.Get("atcWhithinLastOneMinute").Int(),
		Buyers:               data.Get("buyers").Int(),
		ConfirmedBuyers:      data.Get("confirmedBuyers").Int(),
		EngagedViewers:       data.Get("engagedViewers").Int(),
		RawData:              raw,
	}
}

// formatClock 秒数格式化为 hh:mm:ss
func formatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
