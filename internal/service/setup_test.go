package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/affdash/internal/constants"
	"github.com/affdash/internal/cookiecrypt"
	"github.com/affdash/internal/fetcher"
	"github.com/affdash/internal/models"
	"github.com/affdash/internal/reportcache"
	"github.com/affdash/internal/repository"
	"github.com/affdash/internal/upstream"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testLocation = time.FixedZone("UTC+7", 7*3600)

type serviceTestEnv struct {
	db          *gorm.DB
	accountRepo *repository.GormAccountRepository
	groupRepo   *repository.GormGroupRepository
	userRepo    *repository.GormUserRepository
	cipher      *cookiecrypt.Cipher
	cache       reportcache.Store
}

func setupServiceTest(t *testing.T) *serviceTestEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:service_%s_%d?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate models failed: %v", err)
	}
	cipher, err := cookiecrypt.New("service-test-secret")
	if err != nil {
		t.Fatalf("create cipher failed: %v", err)
	}
	return &serviceTestEnv{
		db:          db,
		accountRepo: repository.NewAccountRepository(db),
		groupRepo:   repository.NewGroupRepository(db),
		userRepo:    repository.NewUserRepository(db),
		cipher:      cipher,
		cache:       reportcache.NewFileStore(t.TempDir()),
	}
}

func (e *serviceTestEnv) seedGroup(t *testing.T, name string) *models.Group {
	t.Helper()
	group := &models.Group{Name: name}
	if err := e.groupRepo.Create(group); err != nil {
		t.Fatalf("create group failed: %v", err)
	}
	return group
}

func (e *serviceTestEnv) seedAccount(t *testing.T, externalID int64, name string, groupID uint, cookies string) *models.Account {
	t.Helper()
	cipherText, err := e.cipher.Encrypt(cookies)
	if err != nil {
		t.Fatalf("encrypt cookies failed: %v", err)
	}
	account := &models.Account{
		ExternalUserID: externalID,
		UserName:       name,
		CookiesCipher:  cipherText,
		GroupID:        groupID,
	}
	if err := e.accountRepo.Create(account); err != nil {
		t.Fatalf("create account failed: %v", err)
	}
	return account
}

func (e *serviceTestEnv) reloadAccount(t *testing.T, id uint) *models.Account {
	t.Helper()
	account, err := e.accountRepo.GetByID(id)
	if err != nil || account == nil {
		t.Fatalf("reload account %d failed: %v", id, err)
	}
	return account
}

func adminViewer() Viewer {
	return Viewer{UserID: 1, Username: "admin", Role: constants.RoleAdmin}
}

func userViewer(groupIDs ...uint) Viewer {
	return Viewer{UserID: 2, Username: "member", Role: constants.RoleUser, GroupIDs: groupIDs}
}

// fakePages 按外部用户 cookies 返回固定记录，failPages 中的页码始终返回网络错误
type fakePages struct {
	mu        sync.Mutex
	items     map[string][]upstream.CommissionRecord
	authErr   map[string]bool
	failPages map[int]bool
	calls     int
}

func newFakePages() *fakePages {
	return &fakePages{
		items:     map[string][]upstream.CommissionRecord{},
		authErr:   map[string]bool{},
		failPages: map[int]bool{},
	}
}

func (f *fakePages) FetchReportPage(_ context.Context, cookies string, _, _ int64, page, size int, _ int64) (*upstream.ReportPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.authErr[cookies] {
		return nil, &upstream.UpstreamError{Status: 401, Message: "login required"}
	}
	if f.failPages[page] {
		return nil, fmt.Errorf("%w: page %d reset", upstream.ErrNetwork, page)
	}
	all := f.items[cookies]
	from := (page - 1) * size
	if from > len(all) {
		from = len(all)
	}
	to := from + size
	if to > len(all) {
		to = len(all)
	}
	return &upstream.ReportPage{TotalCount: len(all), PageNumber: page, PageSize: size, Items: all[from:to]}, nil
}

func newTestFetcher(client fetcher.PageClient) *fetcher.Fetcher {
	return fetcher.New(client, fetcher.Options{
		PageSize:    2,
		Concurrency: 2,
		MaxAttempts: 2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})
}

type fakeTester struct {
	valid map[string]bool
}

func (f fakeTester) TestCookies(_ context.Context, cookies string) bool {
	return f.valid[cookies]
}

func record(channel, commission, revenue int64, mcn, rate string) upstream.CommissionRecord {
	return upstream.CommissionRecord{
		AffChannelID:            channel,
		AffiliateNetCommission:  commission,
		ActualAmount:            revenue,
		LinkedMcnName:           mcn,
		LinkedMcnCommissionRate: rate,
	}
}
