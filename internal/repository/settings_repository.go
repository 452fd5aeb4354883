// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"

	"double-ai-go/internal/model"

	"gorm.io/gorm"
)

// globalSettingsID 全局设置是单例，固定只存在这一行。
const globalSettingsID = 1

// SettingsRepository 定义了全局与按用户设置的持久化操作。
// 密钥字段在进入这里之前必须已经是密文。
type SettingsRepository interface {
	GetGlobalSettings(ctx context.Context) (*model.GlobalSettings, error)
	UpdateGlobalSettings(ctx context.Context, settings *model.GlobalSettings) error
	GetUserSettings(ctx context.Context, userID uint) (*model.UserSettings, error)
	UpdateUserSettings(ctx context.Context, settings *model.UserSettings) error
}

// settingsRepository 是 SettingsRepository 接口的 GORM 实现。
type settingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository 创建一个新的 SettingsRepository 实例。
func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

// GetGlobalSettings 读取全局设置单例。
// 若该行尚不存在（首次启动），返回带默认值的记录并落库。
func (r *settingsRepository) GetGlobalSettings(ctx context.Context) (*model.GlobalSettings, error) {
	var settings model.GlobalSettings
	err := r.db.WithContext(ctx).First(&settings, globalSettingsID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = model.GlobalSettings{
			ID:                  globalSettingsID,
			DefaultSystemPrompt: model.DefaultSystemPrompt,
			ModelVersion:        "gpt-4o",
			AllowUserAPIKeys:    false,
			MaintenanceMode:     false,
		}
		if err := r.db.WithContext(ctx).Create(&settings).Error; err != nil {
			return nil, fmt.Errorf("failed to seed global settings: %w", err)
		}
		return &settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global settings: %w", err)
	}
	return &settings, nil
}

// UpdateGlobalSettings 整行保存全局设置（管理员路径专用）。
func (r *settingsRepository) UpdateGlobalSettings(ctx context.Context, settings *model.GlobalSettings) error {
	settings.ID = globalSettingsID
	if err := r.db.WithContext(ctx).Save(settings).Error; err != nil {
		return fmt.Errorf("failed to update global settings: %w", err)
	}
	return nil
}

// GetUserSettings 读取某个用户的设置；不存在时返回 gorm.ErrRecordNotFound。
func (r *settingsRepository) GetUserSettings(ctx context.Context, userID uint) (*model.UserSettings, error) {
	var settings model.UserSettings
	err := r.db.WithContext(ctx).First(&settings, "user_id = ?", userID).Error
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateUserSettings 保存（不存在则创建）某个用户的设置。
func (r *settingsRepository) UpdateUserSettings(ctx context.Context, settings *model.UserSettings) error {
	if err := r.db.WithContext(ctx).Save(settings).Error; err != nil {
		return fmt.Errorf("failed to update user settings: %w", err)
	}
	return nil
}
