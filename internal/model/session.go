// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色常量。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultSessionTitle 是新建会话的默认标题，
// 在标题生成任务成功之前一直使用它。
const DefaultSessionTitle = "New Chat"

// ChatSession 定义了 chat_sessions 表的 ORM 模型。
// 会话归属于创建它的用户，UpdatedAt 在任何变更（改标题、追加消息、清空）时单调递增。
type ChatSession struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"userId"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	// Messages 仅在内存态/缓存快照中填充，不由 GORM 关联加载。
	Messages []ChatMessage `gorm:"-" json:"messages"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage 定义了 chat_messages 表的 ORM 模型。
// 会话内消息只追加；删除会话时级联删除其消息。
type ChatMessage struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"`
	SessionID string    `gorm:"type:char(36);index;not null" json:"sessionId"`
	Role      string    `gorm:"type:varchar(20);not null" json:"role"` // user / assistant / system
	Content   string    `gorm:"type:text;not null" json:"content"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`

	// IsLoading 是纯内存态：占位的助手消息在补全完成前为 true。
	// 它绝不落库，失败时对应消息整条移除。
	IsLoading bool `gorm:"-" json:"isLoading,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ChatMessage) TableName() string {
	return "chat_messages"
}
