// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"double-ai-go/internal/chaterr"
	"double-ai-go/internal/model"
	"double-ai-go/internal/repository"
	"double-ai-go/pkg/events"
	"double-ai-go/pkg/log"

	"github.com/google/uuid"
)

// SessionStore 是活跃用户会话状态的唯一真实来源。
// 它在远端仓储（系统记录）与 Redis 快照缓存（兜底读源）之间做读写协调：
// 读取走远端、失败回退缓存；写入本地先行、远端尽力而为。
type SessionStore interface {
	// LoadForUser 加载某用户的全部会话（最近更新优先）。
	// degraded 为 true 表示远端不可达、结果来自本地缓存或本地合成。
	LoadForUser(ctx context.Context, userID uint) (sessions []model.ChatSession, degraded bool, err error)
	CreateSession(ctx context.Context, userID uint, title string) (*model.ChatSession, error)
	DeleteSession(ctx context.Context, userID uint, sessionID string) error
	// ClearSession 清空会话消息。语义上是“删除后按原标题重建”，
	// 因此返回的会话带有新的 ID，调用方必须以返回值为准。
	ClearSession(ctx context.Context, userID uint, sessionID string) (*model.ChatSession, error)
	AppendMessage(ctx context.Context, userID uint, sessionID, role, content string) (*model.ChatMessage, error)
	RenameSession(ctx context.Context, userID uint, sessionID, title string)
	GetMessages(ctx context.Context, userID uint, sessionID string) ([]model.ChatMessage, error)
	GetSession(ctx context.Context, userID uint, sessionID string) (*model.ChatSession, error)
	CurrentSessionID(userID uint) string
	SetCurrentSession(userID uint, sessionID string) error

	// 以下三个操作服务于一次问答交互中占位助手消息的生命周期，
	// 占位消息只存在于内存态，最终要么被定稿持久化、要么被整条移除。
	AppendPlaceholder(userID uint, sessionID string) (*model.ChatMessage, error)
	FinalizeMessage(ctx context.Context, userID uint, sessionID, messageID, content string) (*model.ChatMessage, error)
	RemoveMessage(userID uint, sessionID, messageID string)
}

// userState 保存单个用户的内存态会话列表。
type userState struct {
	sessions  []*model.ChatSession // 最近更新在前
	currentID string
	loaded    bool
}

// sessionStore 是 SessionStore 接口的实现。
type sessionStore struct {
	repo     repository.SessionRepository
	cache    repository.SessionCacheRepository
	reporter events.Reporter

	mu    sync.Mutex
	users map[uint]*userState
}

// NewSessionStore 创建一个新的 SessionStore 实例。
func NewSessionStore(repo repository.SessionRepository, cache repository.SessionCacheRepository, reporter events.Reporter) SessionStore {
	return &sessionStore{
		repo:     repo,
		cache:    cache,
		reporter: reporter,
		users:    make(map[uint]*userState),
	}
}

// LoadForUser 实现读穿透加载：远端成功则覆盖内存态并刷新缓存快照；
// 远端失败回退缓存快照；两者皆无则合成一个空的默认会话。
func (s *sessionStore) LoadForUser(ctx context.Context, userID uint) ([]model.ChatSession, bool, error) {
	remote, err := s.repo.ListSessions(ctx, userID)
	if err != nil {
		return s.loadDegraded(ctx, userID, err)
	}

	sessions := make([]*model.ChatSession, 0, len(remote))
	for i := range remote {
		sess := remote[i]
		messages, err := s.repo.ListMessages(ctx, sess.ID)
		if err != nil {
			// 单个会话的消息加载失败不应拖垮整个列表
			log.Warnf("加载会话 %s 的消息失败: %v", sess.ID, err)
			messages = []model.ChatMessage{}
		}
		sess.Messages = messages
		sessions = append(sessions, &sess)
	}

	s.mu.Lock()
	state := &userState{sessions: sessions, loaded: true}
	if len(state.sessions) > 0 {
		state.currentID = state.sessions[0].ID
	}
	s.users[userID] = state
	s.mu.Unlock()

	// 首次登录没有任何会话时，补一个默认会话
	if len(sessions) == 0 {
		created, err := s.CreateSession(ctx, userID, model.DefaultSessionTitle)
		if err != nil {
			return nil, false, err
		}
		return []model.ChatSession{*created}, false, nil
	}

	s.refreshSnapshot(ctx, userID)
	return s.snapshotCopy(userID), false, nil
}

// loadDegraded 处理远端不可达的回退路径。降级必须可观察：上报事件并返回 degraded=true。
func (s *sessionStore) loadDegraded(ctx context.Context, userID uint, cause error) ([]model.ChatSession, bool, error) {
	log.Errorf("远端会话列表加载失败，进入降级模式: userID=%d, err=%v", userID, cause)
	s.reporter.Report(ctx, events.ChatEvent{
		Type:   events.EventDegradedMode,
		UserID: userID,
		Detail: cause.Error(),
	})

	cached, cacheErr := s.cache.GetSnapshot(ctx, userID)
	if cacheErr != nil {
		log.Warnf("读取会话快照缓存失败: userID=%d, err=%v", userID, cacheErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := &userState{loaded: true}
	if len(cached) > 0 {
		state.sessions = make([]*model.ChatSession, 0, len(cached))
		for i := range cached {
			sess := cached[i]
			state.sessions = append(state.sessions, &sess)
		}
	} else {
		// 缓存也没有：合成一个仅存在于本地的空会话，保证 UI 始终可用
		now := time.Now()
		state.sessions = []*model.ChatSession{{
			ID:        uuid.NewString(),
			UserID:    userID,
			Title:     model.DefaultSessionTitle,
			CreatedAt: now,
			UpdatedAt: now,
			Messages:  []model.ChatMessage{},
		}}
	}
	state.currentID = state.sessions[0].ID
	s.users[userID] = state

	return s.copySessionsLocked(state), true, nil
}

// CreateSession 创建新会话：先尝试远端，失败时仍在本地创建并立即可用（乐观本地策略）。
func (s *sessionStore) CreateSession(ctx context.Context, userID uint, title string) (*model.ChatSession, error) {
	if strings.TrimSpace(title) == "" {
		title = model.DefaultSessionTitle
	}
	now := time.Now()
	session := &model.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []model.ChatMessage{},
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		log.Warnf("远端创建会话失败，仅保留本地会话: userID=%d, err=%v", userID, err)
		s.reporter.Report(ctx, events.ChatEvent{
			Type:      events.EventSyncFailure,
			UserID:    userID,
			SessionID: session.ID,
			Detail:    fmt.Sprintf("create session: %v", err),
		})
	}

	s.mu.Lock()
	state := s.stateLocked(userID)
	state.sessions = append([]*model.ChatSession{session}, state.sessions...)
	state.currentID = session.ID
	s.mu.Unlock()

	s.refreshSnapshot(ctx, userID)
	copied := copySession(session)
	return &copied, nil
}

// DeleteSession 删除会话。远端失败不阻止本地移除（UI 一致性优先），但会上报。
// 删除的是当前会话时，切到剩余会话中最近更新的一个；没有剩余则自动新建。
func (s *sessionStore) DeleteSession(ctx context.Context, userID uint, sessionID string) error {
	s.mu.Lock()
	state := s.stateLocked(userID)
	idx := indexOfSession(state.sessions, sessionID)
	s.mu.Unlock()
	if idx < 0 {
		return fmt.Errorf("%w: 会话不存在", chaterr.ErrValidation)
	}

	if err := s.repo.DeleteSession(ctx, sessionID); err != nil {
		log.Warnf("远端删除会话失败，本地仍将移除: sessionID=%s, err=%v", sessionID, err)
		s.reporter.Report(ctx, events.ChatEvent{
			Type:      events.EventSyncFailure,
			UserID:    userID,
			SessionID: sessionID,
			Detail:    fmt.Sprintf("delete session: %v", err),
		})
	}

	s.mu.Lock()
	state = s.stateLocked(userID)
	idx = indexOfSession(state.sessions, sessionID)
	if idx >= 0 {
		state.sessions = append(state.sessions[:idx], state.sessions[idx+1:]...)
	}
	wasCurrent := state.currentID == sessionID
	if wasCurrent {
		state.currentID = ""
		if len(state.sessions) > 0 {
			// sessions 保持最近更新在前，直接取头部
			state.currentID = state.sessions[0].ID
		}
	}
	needNew := len(state.sessions) == 0
	s.mu.Unlock()

	if needNew {
		if _, err := s.CreateSession(ctx, userID, model.DefaultSessionTitle); err != nil {
			return err
		}
		return nil
	}

	s.refreshSnapshot(ctx, userID)
	return nil
}

// ClearSession 以“删除 + 按原标题重建”实现清空，避免清理过程中的半清空状态。
// 这里刻意不做原地截断：删除级联掉全部消息，再造一个带原标题的新会话。
func (s *sessionStore) ClearSession(ctx context.Context, userID uint, sessionID string) (*model.ChatSession, error) {
	s.mu.Lock()
	state := s.stateLocked(userID)
	idx := indexOfSession(state.sessions, sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: 会话不存在", chaterr.ErrValidation)
	}
	title := state.sessions[idx].Title
	s.mu.Unlock()

	if err := s.repo.DeleteSession(ctx, sessionID); err != nil {
		log.Warnf("清空会话时远端删除失败: sessionID=%s, err=%v", sessionID, err)
		s.reporter.Report(ctx, events.ChatEvent{
			Type:      events.EventSyncFailure,
			UserID:    userID,
			SessionID: sessionID,
			Detail:    fmt.Sprintf("clear session (delete): %v", err),
		})
	}

	now := time.Now()
	replacement := &model.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []model.ChatMessage{},
	}
	if err := s.repo.CreateSession(ctx, replacement); err != nil {
		log.Warnf("清空会话时远端重建失败，仅保留本地会话: err=%v", err)
		s.reporter.Report(ctx, events.ChatEvent{
			Type:      events.EventSyncFailure,
			UserID:    userID,
			SessionID: replacement.ID,
			Detail:    fmt.Sprintf("clear session (recreate): %v", err),
		})
	}

	s.mu.Lock()
	state = s.stateLocked(userID)
	idx = indexOfSession(state.sessions, sessionID)
	if idx >= 0 {
		state.sessions[idx] = replacement
	} else {
		state.sessions = append([]*model.ChatSession{replacement}, state.sessions...)
	}
	if state.currentID == sessionID {
		state.currentID = replacement.ID
	}
	s.mu.Unlock()

	s.reporter.Report(ctx, events.ChatEvent{
		Type:      events.EventSessionCleared,
		UserID:    userID,
		SessionID: replacement.ID,
	})
	s.refreshSnapshot(ctx, userID)

	copied := copySession(replacement)
	return &copied, nil
}

// AppendMessage 追加一条消息：本地先行生效，远端持久化尽力而为。
// 远端失败不回滚本地（用户看到的自己的对话优先于远端延迟），但必须上报。
func (s *sessionStore) AppendMessage(ctx context.Context, userID uint, sessionID, role, content string) (*model.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: 消息内容不能为空", chaterr.ErrValidation)
	}
	if role != model.RoleUser && role != model.RoleAssistant && role != model.RoleSystem {
		return nil, fmt.Errorf("%w: 非法的消息角色 %q", chaterr.ErrValidation, role)
	}

	s.mu.Lock()
	state := s.stateLocked(userID)
	idx := indexOfSession(state.sessions, sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: 会话不存在", chaterr.ErrValidation)
	}
	session := state.sessions[idx]

	message := model.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: s.nextTimestampLocked(session),
	}
	session.Messages = append(session.Messages, message)
	session.UpdatedAt = message.Timestamp
	s.promoteLocked(state, idx)
	s.mu.Unlock()

	if err := s.repo.AppendMessage(ctx, &message); err != nil {
		log.Warnf("远端持久化消息失败，本地状态保持不变: sessionID=%s, err=%v", sessionID, err)
		s.reporter.Report(ctx, events.ChatEvent{
			Type:      events.EventSyncFailure,
			UserID:    userID,
			SessionID: sessionID,
			Detail:    fmt.Sprintf("append message: %v", err),
		})
	}

	s.refreshSnapshot(ctx, userID)
	return &message, nil
}

// RenameSession 同步更新本地标题；远端更新发后不理，失败只记日志。
func (s *sessionStore) RenameSession(ctx context.Context, userID uint, sessionID, title string) {
	if strings.TrimSpace(title) == "" {
		return
	}

	s.mu.Lock()
	state := s.stateLocked(userID)
	idx := indexOfSession(state.sessions, sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	state.sessions[idx].Title = title
	state.sessions[idx].UpdatedAt = time.Now()
	s.mu.Unlock()

	go func() {
		// 标题同步是尽力而为的，不让调用方等待远端
		if err := s.repo.RenameSession(context.Background(), sessionID, title); err != nil {
			log.Warnf("远端更新会话标题失败: sessionID=%s, err=%v", sessionID, err)
		}
	}()

	s.refreshSnapshot(ctx, userID)
}

// GetMessages 按时间戳升序返回会话内消息的副本。
func (s *sessionStore) GetMessages(ctx context.Context, userID uint, sessionID string) ([]model.ChatMessage, error) {
	if err := s.ensureLoaded(ctx, userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.stateLocked(userID)
	idx := indexOfSession(state.sessions, sessionID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: 会话不存在", chaterr.ErrValidation)
	}

	messages := make([]model.ChatMessage, len(state.sessions[idx].Messages))
	copy(messages, state.sessions[idx].Messages)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages, nil
}

// GetSession 返回会话的副本。
func (s *sessionStore) GetSession(ctx context.Context, userID uint, sessionID string) (*model.ChatSession, error) {
	if err := s.ensureLoaded(ctx, userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.stateLocked(userID)
	idx := indexOfSession(state.sessions, sessionID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: 会话不存在", chaterr.ErrValidation)
	}
	copied := copySession(state.sessions[idx])
	return &copied, nil
}

// CurrentSessionID 返回当前活跃会话 ID；用户未加载时返回空串。
func (s *sessionStore) CurrentSessionID(userID uint) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.users[userID]; ok {
		return state.currentID
	}
	return ""
}

// SetCurrentSession 切换当前活跃会话，目标必须在内存列表中。
func (s *sessionStore) SetCurrentSession(userID uint, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.stateLocked(userID)
	if indexOfSession(state.sessions, sessionID) < 0 {
		return fmt.Errorf("%w: 会话不存在", chaterr.ErrValidation)
	}
	state.currentID = sessionID
	return nil
}

// AppendPlaceholder 追加一条 isLoading 的占位助手消息。纯内存操作，不持久化。
func (s *sessionStore) AppendPlaceholder(userID uint, sessionID string) (*model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.stateLocked(userID)
	idx := indexOfSession(state.sessions, sessionID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: 会话不存在", chaterr.ErrValidation)
	}
	session := state.sessions[idx]

	placeholder := model.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      model.RoleAssistant,
		Content:   "",
		Timestamp: s.nextTimestampLocked(session),
		IsLoading: true,
	}
	session.Messages = append(session.Messages, placeholder)
	return &placeholder, nil
}

// FinalizeMessage 将占位消息定稿：写入内容、清除 isLoading，然后尽力持久化。
func (s *sessionStore) FinalizeMessage(ctx context.Context, userID uint, sessionID, messageID, content string) (*model.ChatMessage, error) {
	s.mu.Lock()
	state := s.stateLocked(userID)
	idx := indexOfSession(state.sessions, sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: 会话不存在", chaterr.ErrValidation)
	}
	session := state.sessions[idx]

	var finalized *model.ChatMessage
	for i := range session.Messages {
		if session.Messages[i].ID == messageID {
			session.Messages[i].Content = content
			session.Messages[i].IsLoading = false
			finalized = &session.Messages[i]
			break
		}
	}
	if finalized == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: 占位消息不存在", chaterr.ErrValidation)
	}
	message := *finalized
	session.UpdatedAt = message.Timestamp
	s.promoteLocked(state, idx)
	s.mu.Unlock()

	if err := s.repo.AppendMessage(ctx, &message); err != nil {
		log.Warnf("远端持久化助手消息失败: sessionID=%s, err=%v", sessionID, err)
		s.reporter.Report(ctx, events.ChatEvent{
			Type:      events.EventSyncFailure,
			UserID:    userID,
			SessionID: sessionID,
			Detail:    fmt.Sprintf("append assistant message: %v", err),
		})
	}

	s.refreshSnapshot(ctx, userID)
	return &message, nil
}

// RemoveMessage 从内存态移除一条消息（用于失败时撤掉占位消息）。
func (s *sessionStore) RemoveMessage(userID uint, sessionID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.stateLocked(userID)
	idx := indexOfSession(state.sessions, sessionID)
	if idx < 0 {
		return
	}
	session := state.sessions[idx]
	for i := range session.Messages {
		if session.Messages[i].ID == messageID {
			session.Messages = append(session.Messages[:i], session.Messages[i+1:]...)
			return
		}
	}
}

// ensureLoaded 保证某用户的内存态已初始化。
func (s *sessionStore) ensureLoaded(ctx context.Context, userID uint) error {
	s.mu.Lock()
	_, ok := s.users[userID]
	s.mu.Unlock()
	if ok {
		return nil
	}
	_, _, err := s.LoadForUser(ctx, userID)
	return err
}

// stateLocked 返回某用户的内存态，不存在则初始化。调用方必须持有 s.mu。
func (s *sessionStore) stateLocked(userID uint) *userState {
	state, ok := s.users[userID]
	if !ok {
		state = &userState{}
		s.users[userID] = state
	}
	return state
}

// nextTimestampLocked 生成一个不早于会话内已有消息的时间戳，
// 保证存储顺序上时间戳单调不减。调用方必须持有 s.mu。
func (s *sessionStore) nextTimestampLocked(session *model.ChatSession) time.Time {
	ts := time.Now()
	if n := len(session.Messages); n > 0 {
		if last := session.Messages[n-1].Timestamp; ts.Before(last) {
			ts = last
		}
	}
	return ts
}

// promoteLocked 将 idx 处的会话移动到列表头部（最近更新优先）。调用方必须持有 s.mu。
func (s *sessionStore) promoteLocked(state *userState, idx int) {
	if idx <= 0 {
		return
	}
	session := state.sessions[idx]
	state.sessions = append(state.sessions[:idx], state.sessions[idx+1:]...)
	state.sessions = append([]*model.ChatSession{session}, state.sessions...)
}

// refreshSnapshot 把某用户当前的内存态整体写入缓存，失败只记日志。
func (s *sessionStore) refreshSnapshot(ctx context.Context, userID uint) {
	snapshot := s.snapshotCopy(userID)
	if snapshot == nil {
		return
	}
	if err := s.cache.SaveSnapshot(ctx, userID, snapshot); err != nil {
		log.Warnf("刷新会话快照缓存失败: userID=%d, err=%v", userID, err)
	}
}

// snapshotCopy 返回某用户内存态的深拷贝。
func (s *sessionStore) snapshotCopy(userID uint) []model.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.users[userID]
	if !ok {
		return nil
	}
	return s.copySessionsLocked(state)
}

// copySessionsLocked 深拷贝内存态会话列表。调用方必须持有 s.mu。
func (s *sessionStore) copySessionsLocked(state *userState) []model.ChatSession {
	result := make([]model.ChatSession, 0, len(state.sessions))
	for _, sess := range state.sessions {
		result = append(result, copySession(sess))
	}
	return result
}

func copySession(session *model.ChatSession) model.ChatSession {
	copied := *session
	copied.Messages = make([]model.ChatMessage, len(session.Messages))
	copy(copied.Messages, session.Messages)
	return copied
}

func indexOfSession(sessions []*model.ChatSession, sessionID string) int {
	for i, sess := range sessions {
		if sess.ID == sessionID {
			return i
		}
	}
	return -1
}
