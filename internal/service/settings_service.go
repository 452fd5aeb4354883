// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"

	"double-ai-go/internal/chaterr"
	"double-ai-go/internal/config"
	"double-ai-go/internal/model"
	"double-ai-go/internal/repository"
	"double-ai-go/pkg/log"
	"double-ai-go/pkg/secret"

	"gorm.io/gorm"
)

// EffectiveSettings 是一次补全调用实际使用的运行时配置。
// APIKey 是解密后的明文，只允许在调用点使用，绝不回显、绝不写日志。
type EffectiveSettings struct {
	APIKey       string
	Model        string
	Temperature  float64
	SystemPrompt string
}

// UserSettingsView 是用户设置的对外展示结构，密钥字段已脱敏。
type UserSettingsView struct {
	Theme             string  `json:"theme"`
	PreferredLanguage string  `json:"preferredLanguage"`
	Temperature       float64 `json:"temperature"`
	SystemPrompt      string  `json:"systemPrompt"`
	UsePersonalAPIKey bool    `json:"usePersonalApiKey"`
	PersonalAPIKey    string  `json:"personalApiKey"` // 空 或 "[ENCRYPTED]"
}

// UserSettingsPatch 是用户设置的更新补丁，nil 字段表示不修改。
type UserSettingsPatch struct {
	Theme             *string  `json:"theme"`
	PreferredLanguage *string  `json:"preferredLanguage"`
	Temperature       *float64 `json:"temperature"`
	SystemPrompt      *string  `json:"systemPrompt"`
	UsePersonalAPIKey *bool    `json:"usePersonalApiKey"`
	// PersonalAPIKey 的语义：nil 不修改；"[ENCRYPTED]" 保持原值；
	// 空字符串清除；其他值加密后替换。
	PersonalAPIKey *string `json:"personalApiKey"`
}

// SettingsResolver 定义了运行时配置解析与用户设置管理的接口。
type SettingsResolver interface {
	// ResolveEffectiveSettings 合并全局与按用户设置，得出本次调用的有效配置。
	// 无可用 API Key 或维护模式下，返回包装了 chaterr.ErrConfiguration 的错误。
	ResolveEffectiveSettings(ctx context.Context, userID uint) (*EffectiveSettings, error)
	GetUserSettings(ctx context.Context, userID uint) (*UserSettingsView, error)
	UpdateUserSettings(ctx context.Context, userID uint, patch UserSettingsPatch) (*UserSettingsView, error)
	// EnsureUserSettings 为新用户落一行默认设置（注册时调用，幂等）。
	EnsureUserSettings(ctx context.Context, userID uint) error
}

// settingsResolver 是 SettingsResolver 接口的实现。
type settingsResolver struct {
	settingsRepo repository.SettingsRepository
	cipher       *secret.Cipher
}

// NewSettingsResolver 创建一个新的 SettingsResolver 实例。
func NewSettingsResolver(settingsRepo repository.SettingsRepository, cipher *secret.Cipher) SettingsResolver {
	return &settingsResolver{
		settingsRepo: settingsRepo,
		cipher:       cipher,
	}
}

// ResolveEffectiveSettings 计算有效配置。
// 个人 Key 只在 全局允许 且 用户开启 且 确实配置了 三个条件同时满足时使用，
// 否则一律使用全局 Key；两者都没有则快速失败，绝不静默发出无鉴权请求。
func (s *settingsResolver) ResolveEffectiveSettings(ctx context.Context, userID uint) (*EffectiveSettings, error) {
	global, err := s.settingsRepo.GetGlobalSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: 无法读取全局设置: %v", chaterr.ErrConfiguration, err)
	}

	if global.MaintenanceMode {
		return nil, fmt.Errorf("%w: 系统维护中，请稍后再试", chaterr.ErrConfiguration)
	}

	userSettings, err := s.settingsRepo.GetUserSettings(ctx, userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: 无法读取用户设置: %v", chaterr.ErrConfiguration, err)
	}

	effective := &EffectiveSettings{
		Model:        global.ModelVersion,
		Temperature:  config.Conf.Chat.DefaultTemperature,
		SystemPrompt: global.DefaultSystemPrompt,
	}
	if effective.Model == "" {
		effective.Model = config.Conf.Chat.DefaultModel
	}
	if effective.SystemPrompt == "" {
		effective.SystemPrompt = model.DefaultSystemPrompt
	}
	if userSettings != nil {
		effective.Temperature = userSettings.Temperature
		if userSettings.SystemPrompt != "" {
			effective.SystemPrompt = userSettings.SystemPrompt
		}
	}

	// Key 优先级：个人 Key（需全局开关+用户开关+已配置）> 全局 Key
	if global.AllowUserAPIKeys && userSettings != nil && userSettings.UsePersonalAPIKey && userSettings.PersonalAPIKey != "" {
		personalKey, err := s.cipher.Decrypt(userSettings.PersonalAPIKey)
		if err != nil {
			// 个人 Key 解密失败时回退到全局 Key，而不是让会话不可用
			log.Warnf("用户 %d 的个人 API Key 解密失败，回退全局 Key", userID)
		} else if personalKey != "" {
			effective.APIKey = personalKey
			return effective, nil
		}
	}

	globalKey, err := s.cipher.Decrypt(global.GlobalAPIKey)
	if err != nil {
		return nil, fmt.Errorf("%w: 全局 API Key 解密失败", chaterr.ErrConfiguration)
	}
	if globalKey == "" {
		return nil, fmt.Errorf("%w: 未配置任何可用的 API Key，请联系管理员", chaterr.ErrConfiguration)
	}
	effective.APIKey = globalKey
	return effective, nil
}

// GetUserSettings 返回脱敏后的用户设置；不存在时返回默认值视图。
func (s *settingsResolver) GetUserSettings(ctx context.Context, userID uint) (*UserSettingsView, error) {
	settings, err := s.settingsRepo.GetUserSettings(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaultUserSettingsView(), nil
	}
	if err != nil {
		return nil, err
	}
	return redactUserSettings(settings), nil
}

// UpdateUserSettings 应用补丁并返回脱敏后的最新设置。
func (s *settingsResolver) UpdateUserSettings(ctx context.Context, userID uint, patch UserSettingsPatch) (*UserSettingsView, error) {
	settings, err := s.settingsRepo.GetUserSettings(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = defaultUserSettings(userID)
	} else if err != nil {
		return nil, err
	}

	if patch.Theme != nil {
		settings.Theme = *patch.Theme
	}
	if patch.PreferredLanguage != nil {
		settings.PreferredLanguage = *patch.PreferredLanguage
	}
	if patch.Temperature != nil {
		if *patch.Temperature < 0 || *patch.Temperature > 2 {
			return nil, fmt.Errorf("%w: temperature 必须在 [0, 2] 区间内", chaterr.ErrValidation)
		}
		settings.Temperature = *patch.Temperature
	}
	if patch.SystemPrompt != nil {
		settings.SystemPrompt = *patch.SystemPrompt
	}
	if patch.UsePersonalAPIKey != nil {
		settings.UsePersonalAPIKey = *patch.UsePersonalAPIKey
	}
	if patch.PersonalAPIKey != nil {
		switch *patch.PersonalAPIKey {
		case model.EncryptedPlaceholder:
			// 收到占位符表示前端回传了脱敏值，保持原密文不变
		case "":
			settings.PersonalAPIKey = ""
		default:
			encrypted, err := s.cipher.Encrypt(*patch.PersonalAPIKey)
			if err != nil {
				return nil, fmt.Errorf("failed to encrypt personal api key: %w", err)
			}
			settings.PersonalAPIKey = encrypted
		}
	}

	if err := s.settingsRepo.UpdateUserSettings(ctx, settings); err != nil {
		return nil, err
	}
	return redactUserSettings(settings), nil
}

// EnsureUserSettings 为用户落默认设置，已存在时不做任何事。
func (s *settingsResolver) EnsureUserSettings(ctx context.Context, userID uint) error {
	_, err := s.settingsRepo.GetUserSettings(ctx, userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.settingsRepo.UpdateUserSettings(ctx, defaultUserSettings(userID))
}

func defaultUserSettings(userID uint) *model.UserSettings {
	return &model.UserSettings{
		UserID:            userID,
		Theme:             "dark",
		PreferredLanguage: "en",
		Temperature:       config.Conf.Chat.DefaultTemperature,
		UsePersonalAPIKey: false,
	}
}

func defaultUserSettingsView() *UserSettingsView {
	return redactUserSettings(defaultUserSettings(0))
}

// redactUserSettings 将密文 Key 替换为占位符后返回展示结构。
func redactUserSettings(settings *model.UserSettings) *UserSettingsView {
	view := &UserSettingsView{
		Theme:             settings.Theme,
		PreferredLanguage: settings.PreferredLanguage,
		Temperature:       settings.Temperature,
		SystemPrompt:      settings.SystemPrompt,
		UsePersonalAPIKey: settings.UsePersonalAPIKey,
	}
	if settings.PersonalAPIKey != "" {
		view.PersonalAPIKey = model.EncryptedPlaceholder
	}
	return view
}
