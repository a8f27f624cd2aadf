package service

import (
	"context"
	"strings"

	"github.com/affdash/internal/cookiecrypt"
	"github.com/affdash/internal/logger"
	"github.com/affdash/internal/models"
	"github.com/affdash/internal/reportcache"
	"github.com/affdash/internal/repository"
)

// CookieTester 探测 cookies 是否可用
type CookieTester interface {
	TestCookies(ctx context.Context, cookies string) bool
}

// AccountService 联盟账号服务
type AccountService struct {
	accountRepo repository.AccountRepository
	groupRepo   repository.GroupRepository
	cipher      *cookiecrypt.Cipher
	tester      CookieTester
	cache       reportcache.Store
}

// NewAccountService 创建账号服务
func NewAccountService(accountRepo repository.AccountRepository, groupRepo repository.GroupRepository, cipher *cookiecrypt.Cipher, tester CookieTester, cache reportcache.Store) *AccountService {
	return &AccountService{
		accountRepo: accountRepo,
		groupRepo:   groupRepo,
		cipher:      cipher,
		tester:      tester,
		cache:       cache,
	}
}

// AddAccountInput 新增账号参数
type AddAccountInput struct {
	ExternalUserID int64
	UserName       string
	UserMeta       models.JSON
	Cookies        string
	GroupID        uint
}

// Add 新增账号，cookies 先探测一次再保存
func (s *AccountService) Add(ctx context.Context, input AddAccountInput) (*models.Account, error) {
	input.UserName = strings.TrimSpace(input.UserName)
	input.Cookies = strings.TrimSpace(input.Cookies)
	if input.ExternalUserID <= 0 || input.UserName == "" || input.GroupID == 0 {
		return nil, ErrInvalidAccountInput
	}
	if input.Cookies == "" {
		return nil, ErrCookiesRequired
	}
	group, err := s.groupRepo.GetByID(input.GroupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	existing, err := s.accountRepo.GetByExternalUserID(input.ExternalUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAccountExists
	}

	valid := s.tester.TestCookies(ctx, input.Cookies)
	cipherText, err := s.cipher.Encrypt(input.Cookies)
	if err != nil {
		return nil, err
	}
	account := &models.Account{
		ExternalUserID: input.ExternalUserID,
		UserName:       input.UserName,
		UserMeta:       input.UserMeta,
		CookiesCipher:  cipherText,
		CookieExpired:  !valid,
		GroupID:        group.ID,
	}
	if err := s.accountRepo.Create(account); err != nil {
		return nil, err
	}
	account.Group = group
	logger.Infow("account_added", "account_id", account.ID, "external_user_id", account.ExternalUserID, "cookie_valid", valid)
	return account, nil
}

// UpdateCookies 替换 cookies 并按探测结果设置失效标记
func (s *AccountService) UpdateCookies(ctx context.Context, id uint, cookies string, viewer Viewer) (*models.Account, error) {
	cookies = strings.TrimSpace(cookies)
	if cookies == "" {
		return nil, ErrCookiesRequired
	}
	account, err := s.visibleAccount(id, viewer)
	if err != nil {
		return nil, err
	}
	valid := s.tester.TestCookies(ctx, cookies)
	cipherText, err := s.cipher.Encrypt(cookies)
	if err != nil {
		return nil, err
	}
	if err := s.accountRepo.UpdateCookies(account.ID, cipherText, !valid); err != nil {
		return nil, err
	}
	account.CookiesCipher = cipherText
	account.CookieExpired = !valid
	return account, nil
}

// ChangeGroup 调整账号分组
func (s *AccountService) ChangeGroup(id, groupID uint) (*models.Account, error) {
	if groupID == 0 {
		return nil, ErrInvalidAccountInput
	}
	group, err := s.groupRepo.GetByID(groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	account, err := s.accountRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	if err := s.accountRepo.UpdateGroup(account.ID, group.ID); err != nil {
		return nil, err
	}
	account.GroupID = group.ID
	account.Group = group
	return account, nil
}

// Delete 删除账号并清除其报表缓存
func (s *AccountService) Delete(ctx context.Context, id uint) error {
	account, err := s.accountRepo.GetByID(id)
	if err != nil {
		return err
	}
	if account == nil {
		return ErrAccountNotFound
	}
	if err := s.accountRepo.Delete(account.ID); err != nil {
		return err
	}
	if err := s.cache.DeleteAllForUser(ctx, account.ExternalUserID); err != nil {
		logger.Warnw("account_delete_clear_cache_failed", "account_id", account.ID, "error", err)
	}
	return nil
}

// CookieTestResult cookies 探测结果
type CookieTestResult struct {
	ID            uint `json:"id"`
	CookieValid   bool `json:"cookie_valid"`
	CookieExpired bool `json:"cookie_expired"`
}

// TestCookies 探测已保存的 cookies 并同步失效标记
func (s *AccountService) TestCookies(ctx context.Context, id uint, viewer Viewer) (*CookieTestResult, error) {
	account, err := s.visibleAccount(id, viewer)
	if err != nil {
		return nil, err
	}
	cookies, err := s.cipher.Decrypt(account.CookiesCipher)
	if err != nil {
		logger.Warnw("account_cookie_decrypt_failed", "account_id", account.ID, "error", err)
		cookies = ""
	}
	valid := cookies != "" && s.tester.TestCookies(ctx, cookies)
	if account.CookieExpired != !valid {
		if err := s.accountRepo.SetCookieExpired(account.ID, !valid); err != nil {
			return nil, err
		}
	}
	return &CookieTestResult{ID: account.ID, CookieValid: valid, CookieExpired: !valid}, nil
}

// AccountListQuery 账号列表查询
type AccountListQuery struct {
	Page          int
	PageSize      int
	GroupID       uint
	Keyword       string
	CookieExpired *bool
}

// List 列出可见账号
func (s *AccountService) List(query AccountListQuery, viewer Viewer) ([]models.Account, int64, error) {
	if query.GroupID != 0 && !viewer.CanAccessGroup(query.GroupID) {
		return nil, 0, ErrForbidden
	}
	return s.accountRepo.List(repository.AccountListFilter{
		Page:          query.Page,
		PageSize:      query.PageSize,
		GroupID:       query.GroupID,
		GroupIDs:      viewer.scopeGroupIDs(),
		Keyword:       query.Keyword,
		CookieExpired: query.CookieExpired,
		WithGroup:     true,
	})
}

// Get 获取单个可见账号
func (s *AccountService) Get(id uint, viewer Viewer) (*models.Account, error) {
	return s.visibleAccount(id, viewer)
}

func (s *AccountService) visibleAccount(id uint, viewer Viewer) (*models.Account, error) {
	account, err := s.accountRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	if !viewer.CanAccessAccount(account) {
		return nil, ErrForbidden
	}
	return account, nil
}
