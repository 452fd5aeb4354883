package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"double-ai-go/internal/model"
	"double-ai-go/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSessionRepo 是 SessionRepository 的内存实现，可以按需注入故障。
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.ChatSession
	messages map[string][]model.ChatMessage

	listErr   error
	createErr error
	deleteErr error
	appendErr error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		sessions: make(map[string]*model.ChatSession),
		messages: make(map[string][]model.ChatMessage),
	}
}

func (f *fakeSessionRepo) ListSessions(ctx context.Context, userID uint) ([]model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	result := make([]model.ChatSession, 0)
	for _, sess := range f.sessions {
		if sess.UserID == userID {
			result = append(result, *sess)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (f *fakeSessionRepo) CreateSession(ctx context.Context, session *model.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeSessionRepo) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.sessions, sessionID)
	delete(f.messages, sessionID)
	return nil
}

func (f *fakeSessionRepo) RenameSession(ctx context.Context, sessionID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess, ok := f.sessions[sessionID]; ok {
		sess.Title = title
	}
	return nil
}

func (f *fakeSessionRepo) ListMessages(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[sessionID]
	result := make([]model.ChatMessage, len(msgs))
	copy(result, msgs)
	return result, nil
}

func (f *fakeSessionRepo) AppendMessage(ctx context.Context, message *model.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.messages[message.SessionID] = append(f.messages[message.SessionID], *message)
	return nil
}

// fakeSessionCache 是 SessionCacheRepository 的内存实现。
type fakeSessionCache struct {
	mu        sync.Mutex
	snapshots map[uint][]model.ChatSession
	getErr    error
}

func newFakeSessionCache() *fakeSessionCache {
	return &fakeSessionCache{snapshots: make(map[uint][]model.ChatSession)}
}

func (f *fakeSessionCache) GetSnapshot(ctx context.Context, userID uint) ([]model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.snapshots[userID], nil
}

func (f *fakeSessionCache) SaveSnapshot(ctx context.Context, userID uint, sessions []model.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[userID] = sessions
	return nil
}

func (f *fakeSessionCache) Invalidate(ctx context.Context, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snapshots, userID)
	return nil
}

// recordingReporter 记录上报的遥测事件，供断言使用。
type recordingReporter struct {
	mu     sync.Mutex
	events []events.ChatEvent
}

func (r *recordingReporter) Report(ctx context.Context, event events.ChatEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingReporter) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

func (r *recordingReporter) hasEvent(eventType string) bool {
	for _, t := range r.eventTypes() {
		if t == eventType {
			return true
		}
	}
	return false
}

func newTestStore(t *testing.T) (SessionStore, *fakeSessionRepo, *fakeSessionCache, *recordingReporter) {
	t.Helper()
	repo := newFakeSessionRepo()
	cache := newFakeSessionCache()
	reporter := &recordingReporter{}
	return NewSessionStore(repo, cache, reporter), repo, cache, reporter
}

func TestLoadForUserCreatesDefaultSessionWhenEmpty(t *testing.T) {
	store, _, _, _ := newTestStore(t)

	sessions, degraded, err := store.LoadForUser(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, degraded)
	require.Len(t, sessions, 1)
	assert.Equal(t, model.DefaultSessionTitle, sessions[0].Title)
	assert.Equal(t, sessions[0].ID, store.CurrentSessionID(1))
}

func TestLoadForUserDegradedFallsBackToCache(t *testing.T) {
	store, repo, cache, reporter := newTestStore(t)

	now := time.Now()
	cached := []model.ChatSession{
		{ID: "s1", UserID: 1, Title: "历史会话一", UpdatedAt: now, Messages: []model.ChatMessage{}},
		{ID: "s2", UserID: 1, Title: "历史会话二", UpdatedAt: now.Add(-time.Hour), Messages: []model.ChatMessage{}},
		{ID: "s3", UserID: 1, Title: "历史会话三", UpdatedAt: now.Add(-2 * time.Hour), Messages: []model.ChatMessage{}},
	}
	require.NoError(t, cache.SaveSnapshot(context.Background(), 1, cached))
	repo.listErr = errors.New("connection refused")

	sessions, degraded, err := store.LoadForUser(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, degraded)
	require.Len(t, sessions, 3)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.True(t, reporter.hasEvent(events.EventDegradedMode))
}

func TestLoadForUserDegradedWithoutCacheSynthesizesSession(t *testing.T) {
	store, repo, _, _ := newTestStore(t)
	repo.listErr = errors.New("connection refused")

	sessions, degraded, err := store.LoadForUser(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, degraded)
	require.Len(t, sessions, 1)
	assert.Equal(t, model.DefaultSessionTitle, sessions[0].Title)
	assert.Empty(t, sessions[0].Messages)
}

func TestCreateSessionSurvivesRemoteFailure(t *testing.T) {
	store, repo, _, reporter := newTestStore(t)
	ctx := context.Background()
	_, _, err := store.LoadForUser(ctx, 1)
	require.NoError(t, err)

	repo.createErr = errors.New("deadlock")
	session, err := store.CreateSession(ctx, 1, "本地优先")
	require.NoError(t, err, "远端失败不应阻止本地创建")
	assert.Equal(t, "本地优先", session.Title)
	assert.Equal(t, session.ID, store.CurrentSessionID(1))
	assert.True(t, reporter.hasEvent(events.EventSyncFailure))
}

func TestDeleteLastSessionAutoCreatesReplacement(t *testing.T) {
	store, _, _, _ := newTestStore(t)
	ctx := context.Background()

	sessions, _, err := store.LoadForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, store.DeleteSession(ctx, 1, sessions[0].ID))

	currentID := store.CurrentSessionID(1)
	require.NotEmpty(t, currentID, "删除最后一个会话后必须自动补一个")
	assert.NotEqual(t, sessions[0].ID, currentID)

	replacement, err := store.GetSession(ctx, 1, currentID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSessionTitle, replacement.Title)
	assert.Empty(t, replacement.Messages)
}

func TestDeleteSwitchesToMostRecentlyUpdated(t *testing.T) {
	store, _, _, _ := newTestStore(t)
	ctx := context.Background()
	_, _, err := store.LoadForUser(ctx, 1)
	require.NoError(t, err)

	older, err := store.CreateSession(ctx, 1, "较旧")
	require.NoError(t, err)
	newer, err := store.CreateSession(ctx, 1, "较新")
	require.NoError(t, err)

	require.NoError(t, store.DeleteSession(ctx, 1, newer.ID))
	assert.Equal(t, older.ID, store.CurrentSessionID(1))
}

func TestClearSessionRecreatesWithSameTitle(t *testing.T) {
	store, _, _, reporter := newTestStore(t)
	ctx := context.Background()
	_, _, err := store.LoadForUser(ctx, 1)
	require.NoError(t, err)

	session, err := store.CreateSession(ctx, 1, "要清空的会话")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, 1, session.ID, model.RoleUser, "第一条")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, 1, session.ID, model.RoleAssistant, "回复")
	require.NoError(t, err)

	replacement, err := store.ClearSession(ctx, 1, session.ID)
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, replacement.ID, "清空后必须是新的会话 ID")
	assert.Equal(t, "要清空的会话", replacement.Title)
	assert.Equal(t, replacement.ID, store.CurrentSessionID(1))

	messages, err := store.GetMessages(ctx, 1, replacement.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	// 旧会话彻底消失
	_, err = store.GetSession(ctx, 1, session.ID)
	assert.Error(t, err)
	assert.True(t, reporter.hasEvent(events.EventSessionCleared))
}

func TestAppendMessageOrderingAndTimestamps(t *testing.T) {
	store, repo, _, _ := newTestStore(t)
	ctx := context.Background()
	sessions, _, err := store.LoadForUser(ctx, 1)
	require.NoError(t, err)
	sessionID := sessions[0].ID

	contents := []string{"一", "二", "三", "四"}
	for i, content := range contents {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		_, err := store.AppendMessage(ctx, 1, sessionID, role, content)
		require.NoError(t, err)
	}

	messages, err := store.GetMessages(ctx, 1, sessionID)
	require.NoError(t, err)
	require.Len(t, messages, len(contents))
	for i, msg := range messages {
		assert.Equal(t, contents[i], msg.Content)
		if i > 0 {
			assert.False(t, msg.Timestamp.Before(messages[i-1].Timestamp),
				"时间戳必须单调不减")
		}
	}

	// 远端也收到了全部消息
	persisted, err := repo.ListMessages(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, persisted, len(contents))
}

func TestAppendMessageKeepsLocalOnRemoteFailure(t *testing.T) {
	store, repo, _, reporter := newTestStore(t)
	ctx := context.Background()
	sessions, _, err := store.LoadForUser(ctx, 1)
	require.NoError(t, err)
	sessionID := sessions[0].ID

	repo.appendErr = errors.New("disk full")
	message, err := store.AppendMessage(ctx, 1, sessionID, model.RoleUser, "离线消息")
	require.NoError(t, err, "远端失败不应导致本地追加失败")
	assert.Equal(t, "离线消息", message.Content)

	messages, err := store.GetMessages(ctx, 1, sessionID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.True(t, reporter.hasEvent(events.EventSyncFailure))
}

func TestPlaceholderLifecycle(t *testing.T) {
	store, _, _, _ := newTestStore(t)
	ctx := context.Background()
	sessions, _, err := store.LoadForUser(ctx, 1)
	require.NoError(t, err)
	sessionID := sessions[0].ID

	placeholder, err := store.AppendPlaceholder(1, sessionID)
	require.NoError(t, err)
	assert.True(t, placeholder.IsLoading)
	assert.Equal(t, model.RoleAssistant, placeholder.Role)

	// 失败路径：整条移除，列表回到追加之前
	store.RemoveMessage(1, sessionID, placeholder.ID)
	messages, err := store.GetMessages(ctx, 1, sessionID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	// 成功路径：定稿后 isLoading 清除、内容写入
	placeholder, err = store.AppendPlaceholder(1, sessionID)
	require.NoError(t, err)
	finalized, err := store.FinalizeMessage(ctx, 1, sessionID, placeholder.ID, "最终回答")
	require.NoError(t, err)
	assert.False(t, finalized.IsLoading)
	assert.Equal(t, "最终回答", finalized.Content)

	messages, err = store.GetMessages(ctx, 1, sessionID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.False(t, messages[0].IsLoading)
}

func TestRenameSessionLocalFirst(t *testing.T) {
	store, _, _, _ := newTestStore(t)
	ctx := context.Background()
	sessions, _, err := store.LoadForUser(ctx, 1)
	require.NoError(t, err)
	sessionID := sessions[0].ID

	store.RenameSession(ctx, 1, sessionID, "新标题")

	session, err := store.GetSession(ctx, 1, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "新标题", session.Title)
}

func TestSetCurrentSessionRejectsUnknown(t *testing.T) {
	store, _, _, _ := newTestStore(t)
	_, _, err := store.LoadForUser(context.Background(), 1)
	require.NoError(t, err)

	assert.Error(t, store.SetCurrentSession(1, "no-such-session"))
}
