package main

import (
	"github.com/affdash/internal/config"
	"github.com/affdash/internal/constants"
	"github.com/affdash/internal/logger"
	"github.com/affdash/internal/models"

	"golang.org/x/crypto/bcrypt"
)

// 演示数据：分组与普通用户，账号 cookies 需通过接口添加
func main() {
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}
	if err := models.InitDefaultAdmin("", ""); err != nil {
		stdLog.Printf("Failed to init default admin: %v", err)
	}

	groups := []models.Group{
		{Name: "Team North", Description: "livestream sellers, north region"},
		{Name: "Team South", Description: "livestream sellers, south region"},
	}
	groupIDs := map[string]uint{}
	for _, group := range groups {
		var existing models.Group
		if err := models.DB.Where("name = ?", group.Name).First(&existing).Error; err == nil {
			stdLog.Printf("Group already exists: %s", group.Name)
			groupIDs[group.Name] = existing.ID
			continue
		}
		if err := models.DB.Create(&group).Error; err != nil {
			stdLog.Printf("Failed to create group %s: %v", group.Name, err)
			continue
		}
		groupIDs[group.Name] = group.ID
		stdLog.Printf("Created group: %s", group.Name)
	}

	users := []struct {
		Username string
		Password string
		Groups   []string
	}{
		{Username: "north_lead", Password: "north123", Groups: []string{"Team North"}},
		{Username: "south_lead", Password: "south123", Groups: []string{"Team South"}},
	}
	for _, seed := range users {
		var count int64
		models.DB.Model(&models.User{}).Where("username = ?", seed.Username).Count(&count)
		if count > 0 {
			stdLog.Printf("User already exists: %s", seed.Username)
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
		if err != nil {
			stdLog.Printf("Failed to hash password for %s: %v", seed.Username, err)
			continue
		}
		user := models.User{
			Username:     seed.Username,
			PasswordHash: string(hash),
			Role:         constants.RoleUser,
		}
		for _, name := range seed.Groups {
			if id, ok := groupIDs[name]; ok {
				user.Groups = append(user.Groups, models.Group{ID: id})
			}
		}
		if err := models.DB.Create(&user).Error; err != nil {
			stdLog.Printf("Failed to create user %s: %v", seed.Username, err)
			continue
		}
		stdLog.Printf("Created user: %s (password %s)", seed.Username, seed.Password)
	}

	stdLog.Printf("Seed completed")
}
