package service

import (
	"context"
	"os"
	"testing"

	"double-ai-go/internal/chaterr"
	"double-ai-go/internal/config"
	"double-ai-go/internal/model"
	"double-ai-go/pkg/log"
	"double-ai-go/pkg/secret"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	log.Init("error", "json", "")
	config.Conf.Chat = config.ChatConfig{
		DefaultModel:       "gpt-4o",
		DefaultTemperature: 0.7,
		CacheTTLHours:      168,
	}
	os.Exit(m.Run())
}

// fakeSettingsRepo 是 SettingsRepository 的内存实现。
type fakeSettingsRepo struct {
	global    *model.GlobalSettings
	globalErr error
	users     map[uint]*model.UserSettings
	userErr   error
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{
		global: &model.GlobalSettings{ID: 1, ModelVersion: "gpt-4o"},
		users:  make(map[uint]*model.UserSettings),
	}
}

func (f *fakeSettingsRepo) GetGlobalSettings(ctx context.Context) (*model.GlobalSettings, error) {
	if f.globalErr != nil {
		return nil, f.globalErr
	}
	copied := *f.global
	return &copied, nil
}

func (f *fakeSettingsRepo) UpdateGlobalSettings(ctx context.Context, settings *model.GlobalSettings) error {
	copied := *settings
	f.global = &copied
	return nil
}

func (f *fakeSettingsRepo) GetUserSettings(ctx context.Context, userID uint) (*model.UserSettings, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	settings, ok := f.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *settings
	return &copied, nil
}

func (f *fakeSettingsRepo) UpdateUserSettings(ctx context.Context, settings *model.UserSettings) error {
	copied := *settings
	f.users[settings.UserID] = &copied
	return nil
}

func newTestCipher(t *testing.T) *secret.Cipher {
	t.Helper()
	return secret.NewCipher("unit-test-secret", "unit-test-salt")
}

func mustEncrypt(t *testing.T, cipher *secret.Cipher, plaintext string) string {
	t.Helper()
	encrypted, err := cipher.Encrypt(plaintext)
	require.NoError(t, err)
	return encrypted
}

func TestResolveEffectiveSettingsUsesGlobalKeyByDefault(t *testing.T) {
	cipher := newTestCipher(t)
	repo := newFakeSettingsRepo()
	repo.global.GlobalAPIKey = mustEncrypt(t, cipher, "sk-global")

	resolver := NewSettingsResolver(repo, cipher)

	settings, err := resolver.ResolveEffectiveSettings(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "sk-global", settings.APIKey)
	assert.Equal(t, "gpt-4o", settings.Model)
	assert.NotEmpty(t, settings.SystemPrompt)
}

func TestResolveEffectiveSettingsPersonalKeyPrecedence(t *testing.T) {
	cipher := newTestCipher(t)
	repo := newFakeSettingsRepo()
	repo.global.GlobalAPIKey = mustEncrypt(t, cipher, "sk-global")
	repo.global.AllowUserAPIKeys = true
	repo.users[1] = &model.UserSettings{
		UserID:            1,
		Temperature:       0.5,
		UsePersonalAPIKey: true,
		PersonalAPIKey:    mustEncrypt(t, cipher, "sk-personal"),
	}

	resolver := NewSettingsResolver(repo, cipher)

	settings, err := resolver.ResolveEffectiveSettings(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "sk-personal", settings.APIKey)
	assert.Equal(t, 0.5, settings.Temperature)
}

func TestResolveEffectiveSettingsGlobalSwitchOverridesUserChoice(t *testing.T) {
	cipher := newTestCipher(t)
	repo := newFakeSettingsRepo()
	repo.global.GlobalAPIKey = mustEncrypt(t, cipher, "sk-global")
	// 管理员关闭了个人 Key 开关：即使用户开启并配置了 Key，也必须使用全局 Key
	repo.global.AllowUserAPIKeys = false
	repo.users[1] = &model.UserSettings{
		UserID:            1,
		Temperature:       0.7,
		UsePersonalAPIKey: true,
		PersonalAPIKey:    mustEncrypt(t, cipher, "sk-personal"),
	}

	resolver := NewSettingsResolver(repo, cipher)

	settings, err := resolver.ResolveEffectiveSettings(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "sk-global", settings.APIKey)
}

func TestResolveEffectiveSettingsNoKeyConfigured(t *testing.T) {
	cipher := newTestCipher(t)
	repo := newFakeSettingsRepo()

	resolver := NewSettingsResolver(repo, cipher)

	_, err := resolver.ResolveEffectiveSettings(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, chaterr.ErrConfiguration)
}

func TestResolveEffectiveSettingsMaintenanceMode(t *testing.T) {
	cipher := newTestCipher(t)
	repo := newFakeSettingsRepo()
	repo.global.GlobalAPIKey = mustEncrypt(t, cipher, "sk-global")
	repo.global.MaintenanceMode = true

	resolver := NewSettingsResolver(repo, cipher)

	_, err := resolver.ResolveEffectiveSettings(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, chaterr.ErrConfiguration)
}

func TestUpdateUserSettingsKeyRedaction(t *testing.T) {
	cipher := newTestCipher(t)
	repo := newFakeSettingsRepo()
	resolver := NewSettingsResolver(repo, cipher)
	ctx := context.Background()

	// 首次写入明文 Key，返回的视图必须是占位符而不是明文
	key := "sk-secret-value"
	view, err := resolver.UpdateUserSettings(ctx, 1, UserSettingsPatch{PersonalAPIKey: &key})
	require.NoError(t, err)
	assert.Equal(t, model.EncryptedPlaceholder, view.PersonalAPIKey)

	stored := repo.users[1].PersonalAPIKey
	assert.NotEqual(t, key, stored, "存储的 Key 必须是密文")

	// 前端回传占位符：保持原密文不变
	placeholder := model.EncryptedPlaceholder
	_, err = resolver.UpdateUserSettings(ctx, 1, UserSettingsPatch{PersonalAPIKey: &placeholder})
	require.NoError(t, err)
	assert.Equal(t, stored, repo.users[1].PersonalAPIKey)

	// 空字符串：清除 Key
	empty := ""
	view, err = resolver.UpdateUserSettings(ctx, 1, UserSettingsPatch{PersonalAPIKey: &empty})
	require.NoError(t, err)
	assert.Empty(t, view.PersonalAPIKey)
	assert.Empty(t, repo.users[1].PersonalAPIKey)
}

func TestUpdateUserSettingsTemperatureValidation(t *testing.T) {
	cipher := newTestCipher(t)
	repo := newFakeSettingsRepo()
	resolver := NewSettingsResolver(repo, cipher)

	tooHigh := 2.5
	_, err := resolver.UpdateUserSettings(context.Background(), 1, UserSettingsPatch{Temperature: &tooHigh})
	require.Error(t, err)
	assert.ErrorIs(t, err, chaterr.ErrValidation)
}

func TestGetUserSettingsReturnsDefaultsWhenMissing(t *testing.T) {
	cipher := newTestCipher(t)
	repo := newFakeSettingsRepo()
	resolver := NewSettingsResolver(repo, cipher)

	view, err := resolver.GetUserSettings(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "dark", view.Theme)
	assert.Equal(t, 0.7, view.Temperature)
	assert.Empty(t, view.PersonalAPIKey)
}
