// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"fmt"

	"double-ai-go/internal/chaterr"
	"double-ai-go/internal/model"

	"gorm.io/gorm"
)

// SessionRepository 定义了会话与消息的远端持久化操作。
// 所有操作都可能因网络/数据库故障失败，上层按降级策略处理。
type SessionRepository interface {
	ListSessions(ctx context.Context, userID uint) ([]model.ChatSession, error)
	CreateSession(ctx context.Context, session *model.ChatSession) error
	DeleteSession(ctx context.Context, sessionID string) error
	RenameSession(ctx context.Context, sessionID, title string) error
	ListMessages(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	AppendMessage(ctx context.Context, message *model.ChatMessage) error
}

// sessionRepository 是 SessionRepository 接口的 GORM 实现。
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// ListSessions 按最近更新优先返回一个用户的所有会话（不含消息）。
func (r *sessionRepository) ListSessions(ctx context.Context, userID uint) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list sessions: %v", chaterr.ErrPersistence, err)
	}
	return sessions, nil
}

// CreateSession 在数据库中创建一条新的会话记录。
func (r *sessionRepository) CreateSession(ctx context.Context, session *model.ChatSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("%w: failed to create session: %v", chaterr.ErrPersistence, err)
	}
	return nil
}

// DeleteSession 硬删除会话，并级联删除其全部消息。
func (r *sessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", sessionID).Delete(&model.ChatSession{}).Error
	})
	if err != nil {
		return fmt.Errorf("%w: failed to delete session: %v", chaterr.ErrPersistence, err)
	}
	return nil
}

// RenameSession 更新会话标题，UpdatedAt 随之刷新。
func (r *sessionRepository) RenameSession(ctx context.Context, sessionID, title string) error {
	err := r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("id = ?", sessionID).
		Update("title", title).Error
	if err != nil {
		return fmt.Errorf("%w: failed to rename session: %v", chaterr.ErrPersistence, err)
	}
	return nil
}

// ListMessages 按时间戳升序返回会话内的全部消息。
func (r *sessionRepository) ListMessages(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list messages: %v", chaterr.ErrPersistence, err)
	}
	return messages, nil
}

// AppendMessage 追加一条消息，并刷新所属会话的 UpdatedAt。
func (r *sessionRepository) AppendMessage(ctx context.Context, message *model.ChatMessage) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		// 追加消息算一次会话变更，UpdatedAt 必须前进
		return tx.Model(&model.ChatSession{}).
			Where("id = ?", message.SessionID).
			Update("updated_at", message.Timestamp).Error
	})
	if err != nil {
		return fmt.Errorf("%w: failed to append message: %v", chaterr.ErrPersistence, err)
	}
	return nil
}
