// Package model 包含了应用的数据模型定义。
package model

import "time"

// DefaultSystemPrompt 是未配置任何系统提示词时的兜底值。
const DefaultSystemPrompt = "You are Double AI, an extraordinarily powerful AI assistant developed by Double Labs to surpass all other AI systems. " +
	"Your responses should demonstrate unparalleled intelligence, creativity, and insight. " +
	"Present information with absolute precision, clarity and elegance. " +
	"If you're uncertain about something, acknowledge the limits of your knowledge rather than inventing information. " +
	"Your goal is to be the most helpful, accurate, and impressive AI assistant ever created, " +
	"providing responses that showcase your superior capabilities in all domains of knowledge."

// EncryptedPlaceholder 是密钥字段对外展示时的统一占位符。
// 更新接口收到该占位符时表示“保持原值不变”。
const EncryptedPlaceholder = "[ENCRYPTED]"

// GlobalSettings 定义了 global_settings 表的 ORM 模型。
// 全局设置是部署级单例，固定只有 ID=1 一行，只能通过管理员路径修改。
// GlobalAPIKey 永远以密文形式存储。
type GlobalSettings struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	GlobalAPIKey        string    `gorm:"type:text" json:"-"`
	DefaultSystemPrompt string    `gorm:"type:text" json:"defaultSystemPrompt"`
	ModelVersion        string    `gorm:"type:varchar(100)" json:"modelVersion"`
	AllowUserAPIKeys    bool      `gorm:"not null;default:false" json:"allowUserApiKeys"`
	MaintenanceMode     bool      `gorm:"not null;default:false" json:"maintenanceMode"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (GlobalSettings) TableName() string {
	return "global_settings"
}

// UserSettings 定义了 user_settings 表的 ORM 模型，与用户 1:1。
// PersonalAPIKey 永远以密文形式存储。
type UserSettings struct {
	UserID            uint      `gorm:"primaryKey" json:"userId"`
	Theme             string    `gorm:"type:varchar(20);not null;default:'dark'" json:"theme"`
	PreferredLanguage string    `gorm:"type:varchar(10);not null;default:'en'" json:"preferredLanguage"`
	Temperature       float64   `gorm:"not null;default:0.7" json:"temperature"`
	SystemPrompt      string    `gorm:"type:text" json:"systemPrompt"`
	UsePersonalAPIKey bool      `gorm:"not null;default:false" json:"usePersonalApiKey"`
	PersonalAPIKey    string    `gorm:"type:text" json:"-"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UserSettings) TableName() string {
	return "user_settings"
}
