package repository

import (
	"errors"

	"github.com/affdash/internal/models"

	"gorm.io/gorm"
)

// UserRepository 用户数据访问接口
type UserRepository interface {
	GetByUsername(username string) (*models.User, error)
	GetByID(id uint) (*models.User, error)
	List(filter UserListFilter) ([]models.User, int64, error)
	Create(user *models.User) error
	Update(user *models.User) error
	ReplaceGroups(user *models.User, groupIDs []uint) error
	Delete(id uint) error
	CountByRole(role string) (int64, error)
}

// GormUserRepository GORM 实现
type GormUserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// GetByUsername 根据登录名获取用户
func (r *GormUserRepository) GetByUsername(username string) (*models.User, error) {
	var user models.User
	if err := r.db.Preload("Groups").Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetByID 根据 ID 获取用户
func (r *GormUserRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.Preload("Groups").First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// List 用户列表
func (r *GormUserRepository) List(filter UserListFilter) ([]models.User, int64, error) {
	query := r.db.Model(&models.User{})

	query = applyKeyword(query, filter.Keyword, "username")
	if filter.Role != "" {
		query = query.Where("role = ?", filter.Role)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var users []models.User
	if err := query.Preload("Groups").Order("id DESC").Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Create 创建用户
func (r *GormUserRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

// Update 更新用户基础字段（不含分组授权）
func (r *GormUserRepository) Update(user *models.User) error {
	return r.db.Omit("Groups").Save(user).Error
}

// ReplaceGroups 覆盖用户的分组授权
func (r *GormUserRepository) ReplaceGroups(user *models.User, groupIDs []uint) error {
	groups := make([]models.Group, 0, len(groupIDs))
	for _, id := range groupIDs {
		groups = append(groups, models.Group{ID: id})
	}
	if err := r.db.Model(user).Association("Groups").Replace(groups); err != nil {
		return err
	}
	user.Groups = groups
	return nil
}

// Delete 删除用户及其分组授权
func (r *GormUserRepository) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM user_group_access WHERE user_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, id).Error
	})
}

// CountByRole 统计某角色的用户数
func (r *GormUserRepository) CountByRole(role string) (int64, error) {
	var count int64
	if err := r.db.Model(&models.User{}).Where("role = ?", role).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
