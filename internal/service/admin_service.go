// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"math"

	"double-ai-go/internal/chaterr"
	"double-ai-go/internal/model"
	"double-ai-go/internal/repository"
	"double-ai-go/pkg/secret"
)

// UserListResponse 定义了用户列表 API 的响应结构。
type UserListResponse struct {
	Content       []UserDetailResponse `json:"content"`
	TotalElements int64                `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
	Size          int                  `json:"size"`
	Number        int                  `json:"number"`
}

// UserDetailResponse 定义了用户列表项的详细结构。
type UserDetailResponse struct {
	UserID    uint            `json:"userId"`
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Role      string          `json:"role"`
	IsActive  bool            `json:"isActive"`
	IsBanned  bool            `json:"isBanned"`
	CreatedAt model.LocalTime `json:"createdAt"`
}

// GlobalSettingsView 是全局设置的对外展示结构，密钥字段已脱敏。
type GlobalSettingsView struct {
	GlobalAPIKey        string `json:"globalApiKey"` // 空 或 "[ENCRYPTED]"
	DefaultSystemPrompt string `json:"defaultSystemPrompt"`
	ModelVersion        string `json:"modelVersion"`
	AllowUserAPIKeys    bool   `json:"allowUserApiKeys"`
	MaintenanceMode     bool   `json:"maintenanceMode"`
}

// GlobalSettingsPatch 是全局设置的更新补丁，nil 字段表示不修改。
type GlobalSettingsPatch struct {
	// GlobalAPIKey 的语义：nil 不修改；"[ENCRYPTED]" 保持原值；
	// 空字符串清除；其他值加密后替换。
	GlobalAPIKey        *string `json:"globalApiKey"`
	DefaultSystemPrompt *string `json:"defaultSystemPrompt"`
	ModelVersion        *string `json:"modelVersion"`
	AllowUserAPIKeys    *bool   `json:"allowUserApiKeys"`
	MaintenanceMode     *bool   `json:"maintenanceMode"`
}

// AdminService 接口定义了所有管理员相关的业务操作。
type AdminService interface {
	ListUsers(page, size int) (*UserListResponse, error)
	SetUserBanned(userID uint, banned bool) error
	GetGlobalSettings(ctx context.Context) (*GlobalSettingsView, error)
	UpdateGlobalSettings(ctx context.Context, patch GlobalSettingsPatch) (*GlobalSettingsView, error)
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	userRepo     repository.UserRepository
	settingsRepo repository.SettingsRepository
	cipher       *secret.Cipher
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(userRepo repository.UserRepository, settingsRepo repository.SettingsRepository, cipher *secret.Cipher) AdminService {
	return &adminService{
		userRepo:     userRepo,
		settingsRepo: settingsRepo,
		cipher:       cipher,
	}
}

// ListUsers 分页返回用户列表。
func (s *adminService) ListUsers(page, size int) (*UserListResponse, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 || size > 100 {
		size = 20
	}

	users, total, err := s.userRepo.FindWithPagination(page*size, size)
	if err != nil {
		return nil, err
	}

	content := make([]UserDetailResponse, 0, len(users))
	for _, u := range users {
		content = append(content, UserDetailResponse{
			UserID:    u.ID,
			Email:     u.Email,
			Name:      u.Name,
			Role:      u.Role,
			IsActive:  u.IsActive,
			IsBanned:  u.IsBanned,
			CreatedAt: model.LocalTime(u.CreatedAt),
		})
	}

	return &UserListResponse{
		Content:       content,
		TotalElements: total,
		TotalPages:    int(math.Ceil(float64(total) / float64(size))),
		Size:          size,
		Number:        page,
	}, nil
}

// SetUserBanned 封禁或解封一个用户。
func (s *adminService) SetUserBanned(userID uint, banned bool) error {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return err
	}
	if user.Role == "ADMIN" && banned {
		return fmt.Errorf("%w: 不能封禁管理员账号", chaterr.ErrValidation)
	}
	user.IsBanned = banned
	return s.userRepo.Update(user)
}

// GetGlobalSettings 返回脱敏后的全局设置。
func (s *adminService) GetGlobalSettings(ctx context.Context) (*GlobalSettingsView, error) {
	settings, err := s.settingsRepo.GetGlobalSettings(ctx)
	if err != nil {
		return nil, err
	}
	return redactGlobalSettings(settings), nil
}

// UpdateGlobalSettings 应用管理员提交的补丁并返回脱敏后的最新设置。
// 全局设置是部署级单例，这是它唯一的写入路径。
func (s *adminService) UpdateGlobalSettings(ctx context.Context, patch GlobalSettingsPatch) (*GlobalSettingsView, error) {
	settings, err := s.settingsRepo.GetGlobalSettings(ctx)
	if err != nil {
		return nil, err
	}

	if patch.GlobalAPIKey != nil {
		switch *patch.GlobalAPIKey {
		case model.EncryptedPlaceholder:
			// 前端回传了脱敏值，保持原密文不变
		case "":
			settings.GlobalAPIKey = ""
		default:
			encrypted, err := s.cipher.Encrypt(*patch.GlobalAPIKey)
			if err != nil {
				return nil, fmt.Errorf("failed to encrypt global api key: %w", err)
			}
			settings.GlobalAPIKey = encrypted
		}
	}
	if patch.DefaultSystemPrompt != nil {
		settings.DefaultSystemPrompt = *patch.DefaultSystemPrompt
	}
	if patch.ModelVersion != nil {
		if *patch.ModelVersion == "" {
			return nil, fmt.Errorf("%w: modelVersion 不能为空", chaterr.ErrValidation)
		}
		settings.ModelVersion = *patch.ModelVersion
	}
	if patch.AllowUserAPIKeys != nil {
		settings.AllowUserAPIKeys = *patch.AllowUserAPIKeys
	}
	if patch.MaintenanceMode != nil {
		settings.MaintenanceMode = *patch.MaintenanceMode
	}

	if err := s.settingsRepo.UpdateGlobalSettings(ctx, settings); err != nil {
		return nil, err
	}
	return redactGlobalSettings(settings), nil
}

// redactGlobalSettings 将密文 Key 替换为占位符后返回展示结构。
func redactGlobalSettings(settings *model.GlobalSettings) *GlobalSettingsView {
	view := &GlobalSettingsView{
		DefaultSystemPrompt: settings.DefaultSystemPrompt,
		ModelVersion:        settings.ModelVersion,
		AllowUserAPIKeys:    settings.AllowUserAPIKeys,
		MaintenanceMode:     settings.MaintenanceMode,
	}
	if settings.GlobalAPIKey != "" {
		view.GlobalAPIKey = model.EncryptedPlaceholder
	}
	return view
}
