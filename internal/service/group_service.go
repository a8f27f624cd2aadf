package service

import (
	"strings"

	"github.com/affdash/internal/models"
	"github.com/affdash/internal/repository"
)

// GroupService 账号分组服务
type GroupService struct {
	groupRepo   repository.GroupRepository
	accountRepo repository.AccountRepository
}

// NewGroupService 创建分组服务
func NewGroupService(groupRepo repository.GroupRepository, accountRepo repository.AccountRepository) *GroupService {
	return &GroupService{groupRepo: groupRepo, accountRepo: accountRepo}
}

// Create 创建分组，名称唯一
func (s *GroupService) Create(name, description string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrGroupNameRequired
	}
	existing, err := s.groupRepo.GetByName(name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrGroupExists
	}
	group := &models.Group{Name: name, Description: strings.TrimSpace(description)}
	if err := s.groupRepo.Create(group); err != nil {
		return nil, err
	}
	return group, nil
}

// List 列出可见分组
func (s *GroupService) List(page, pageSize int, keyword string, viewer Viewer) ([]models.Group, int64, error) {
	filter := repository.GroupListFilter{Page: page, PageSize: pageSize, Keyword: keyword}
	if !viewer.IsAdmin() {
		if len(viewer.GroupIDs) == 0 {
			return []models.Group{}, 0, nil
		}
		filter.IDs = viewer.GroupIDs
	}
	return s.groupRepo.List(filter)
}

// Get 获取分组
func (s *GroupService) Get(id uint, viewer Viewer) (*models.Group, error) {
	if !viewer.CanAccessGroup(id) {
		return nil, ErrForbidden
	}
	group, err := s.groupRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	return group, nil
}

// Update 修改分组名称与描述
func (s *GroupService) Update(id uint, name, description string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrGroupNameRequired
	}
	group, err := s.groupRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	if name != group.Name {
		existing, err := s.groupRepo.GetByName(name)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ID != group.ID {
			return nil, ErrGroupExists
		}
	}
	group.Name = name
	group.Description = strings.TrimSpace(description)
	if err := s.groupRepo.Update(group); err != nil {
		return nil, err
	}
	return group, nil
}

// Delete 删除空分组
func (s *GroupService) Delete(id uint) error {
	group, err := s.groupRepo.GetByID(id)
	if err != nil {
		return err
	}
	if group == nil {
		return ErrGroupNotFound
	}
	count, err := s.accountRepo.CountByGroup(group.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrGroupNotEmpty
	}
	return s.groupRepo.Delete(group.ID)
}

// Accounts 分组下的账号
func (s *GroupService) Accounts(id uint, viewer Viewer) ([]models.Account, error) {
	if _, err := s.Get(id, viewer); err != nil {
		return nil, err
	}
	accounts, _, err := s.accountRepo.List(repository.AccountListFilter{GroupID: id, WithGroup: true})
	return accounts, err
}
