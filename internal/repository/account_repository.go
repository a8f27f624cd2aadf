package repository

import (
	"errors"

	"github.com/affdash/internal/models"

	"gorm.io/gorm"
)

// AccountRepository 账号数据访问接口
type AccountRepository interface {
	GetByID(id uint) (*models.Account, error)
	GetByExternalUserID(externalUserID int64) (*models.Account, error)
	List(filter AccountListFilter) ([]models.Account, int64, error)
	Create(account *models.Account) error
	UpdateCookies(id uint, cookiesCipher string, cookieExpired bool) error
	SetCookieExpired(id uint, expired bool) error
	UpdateGroup(id uint, groupID uint) error
	Delete(id uint) error
	CountByGroup(groupID uint) (int64, error)
}

// GormAccountRepository GORM 实现
type GormAccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository 创建账号仓库
func NewAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// GetByID 根据 ID 获取账号
func (r *GormAccountRepository) GetByID(id uint) (*models.Account, error) {
	var account models.Account
	if err := r.db.Preload("Group").First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// GetByExternalUserID 根据平台用户 ID 获取账号
func (r *GormAccountRepository) GetByExternalUserID(externalUserID int64) (*models.Account, error) {
	var account models.Account
	if err := r.db.Where("external_user_id = ?", externalUserID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// List 账号列表，按平台昵称升序
func (r *GormAccountRepository) List(filter AccountListFilter) ([]models.Account, int64, error) {
	query := r.db.Model(&models.Account{})

	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}
	if filter.GroupID != 0 {
		query = query.Where("group_id = ?", filter.GroupID)
	}
	if filter.GroupIDs != nil {
		if len(filter.GroupIDs) == 0 {
			return []models.Account{}, 0, nil
		}
		query = query.Where("group_id IN ?", filter.GroupIDs)
	}
	query = applyKeyword(query, filter.Keyword, "user_name", "CAST(external_user_id AS TEXT)")
	if filter.CookieExpired != nil {
		query = query.Where("cookie_expired = ?", *filter.CookieExpired)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)
	if filter.WithGroup {
		query = query.Preload("Group")
	}

	var accounts []models.Account
	if err := query.Order("user_name ASC").Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

// Create 创建账号
func (r *GormAccountRepository) Create(account *models.Account) error {
	return r.db.Create(account).Error
}

// UpdateCookies 更新 cookies 及失效标记
func (r *GormAccountRepository) UpdateCookies(id uint, cookiesCipher string, cookieExpired bool) error {
	return r.db.Model(&models.Account{}).Where("id = ?", id).Updates(map[string]interface{}{
		"cookies_cipher": cookiesCipher,
		"cookie_expired": cookieExpired,
	}).Error
}

// SetCookieExpired 更新 cookies 失效标记
func (r *GormAccountRepository) SetCookieExpired(id uint, expired bool) error {
	return r.db.Model(&models.Account{}).Where("id = ?", id).Update("cookie_expired", expired).Error
}

// UpdateGroup 调整所属分组
func (r *GormAccountRepository) UpdateGroup(id uint, groupID uint) error {
	return r.db.Model(&models.Account{}).Where("id = ?", id).Update("group_id", groupID).Error
}

// Delete 删除账号
func (r *GormAccountRepository) Delete(id uint) error {
	return r.db.Delete(&models.Account{}, id).Error
}

// CountByGroup 统计分组下的账号数
func (r *GormAccountRepository) CountByGroup(groupID uint) (int64, error) {
	var count int64
	if err := r.db.Model(&models.Account{}).Where("group_id = ?", groupID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
