package repository

import (
	"errors"

	"github.com/affdash/internal/models"

	"gorm.io/gorm"
)

// GroupRepository 分组数据访问接口
type GroupRepository interface {
	GetByID(id uint) (*models.Group, error)
	GetByName(name string) (*models.Group, error)
	List(filter GroupListFilter) ([]models.Group, int64, error)
	Create(group *models.Group) error
	Update(group *models.Group) error
	Delete(id uint) error
}

// GormGroupRepository GORM 实现
type GormGroupRepository struct {
	db *gorm.DB
}

// NewGroupRepository 创建分组仓库
func NewGroupRepository(db *gorm.DB) *GormGroupRepository {
	return &GormGroupRepository{db: db}
}

// GetByID 根据 ID 获取分组
func (r *GormGroupRepository) GetByID(id uint) (*models.Group, error) {
	var group models.Group
	if err := r.db.First(&group, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

// GetByName 根据名称获取分组
func (r *GormGroupRepository) GetByName(name string) (*models.Group, error) {
	var group models.Group
	if err := r.db.Where("name = ?", name).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

// List 分组列表
func (r *GormGroupRepository) List(filter GroupListFilter) ([]models.Group, int64, error) {
	query := r.db.Model(&models.Group{})
	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return []models.Group{}, 0, nil
		}
		query = query.Where("id IN ?", filter.IDs)
	}
	query = applyKeyword(query, filter.Keyword, "name", "description")

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var groups []models.Group
	if err := query.Order("name ASC").Find(&groups).Error; err != nil {
		return nil, 0, err
	}
	return groups, total, nil
}

// Create 创建分组
func (r *GormGroupRepository) Create(group *models.Group) error {
	return r.db.Create(group).Error
}

// Update 更新分组
func (r *GormGroupRepository) Update(group *models.Group) error {
	return r.db.Save(group).Error
}

// Delete 删除分组，同时清理用户的分组授权
func (r *GormGroupRepository) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM user_group_access WHERE group_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Group{}, id).Error
	})
}
