package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"double-ai-go/internal/chaterr"
	"double-ai-go/internal/model"
	"double-ai-go/pkg/openai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompletionClient 是 openai.Client 的测试替身。
// 标题生成调用通过系统消息内容区分，可单独注入结果。
type fakeCompletionClient struct {
	mu         sync.Mutex
	answer     string
	err        error
	titleReply string
	titleErr   error
	titleCalls int
	block      chan struct{} // 非 nil 时，主补全调用会阻塞直到该通道关闭
}

func (f *fakeCompletionClient) Complete(ctx context.Context, messages []openai.Message, opts openai.CompletionOptions) (string, error) {
	if len(messages) > 0 && messages[0].Content == titleInstruction {
		f.mu.Lock()
		f.titleCalls++
		reply, err := f.titleReply, f.titleErr
		f.mu.Unlock()
		return reply, err
	}

	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answer, f.err
}

func (f *fakeCompletionClient) titleCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.titleCalls
}

// newTestChatService 组装一套可用的聊天服务：
// 内存仓储、真实的会话存储与设置解析器、可控的补全客户端。
func newTestChatService(t *testing.T, client *fakeCompletionClient) (ChatService, SessionStore, string) {
	t.Helper()

	cipher := newTestCipher(t)
	settingsRepo := newFakeSettingsRepo()
	settingsRepo.global.GlobalAPIKey = mustEncrypt(t, cipher, "sk-global")
	resolver := NewSettingsResolver(settingsRepo, cipher)

	store, _, _, reporter := newTestStore(t)
	sessions, _, err := store.LoadForUser(context.Background(), 1)
	require.NoError(t, err)

	svc := NewChatService(store, resolver, client, reporter)
	return svc, store, sessions[0].ID
}

func TestSendMessageFirstExchange(t *testing.T) {
	client := &fakeCompletionClient{
		answer:     "你好，我是 Double AI。",
		titleReply: "\"打招呼\"",
	}
	svc, store, sessionID := newTestChatService(t, client)
	ctx := context.Background()

	result, err := svc.SendMessage(ctx, 1, sessionID, "你好")
	require.NoError(t, err)
	require.NotNil(t, result.UserMessage)
	require.NotNil(t, result.AssistantMessage)
	assert.Equal(t, model.RoleUser, result.UserMessage.Role)
	assert.Equal(t, model.RoleAssistant, result.AssistantMessage.Role)
	assert.Equal(t, "你好，我是 Double AI。", result.AssistantMessage.Content)
	assert.False(t, result.AssistantMessage.IsLoading)

	messages, err := store.GetMessages(ctx, 1, sessionID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)

	// 首次交互触发旁路标题生成，引号会被剥掉
	require.Eventually(t, func() bool {
		session, err := store.GetSession(ctx, 1, sessionID)
		return err == nil && session.Title == "打招呼"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendMessageSecondExchangeSkipsTitle(t *testing.T) {
	client := &fakeCompletionClient{answer: "回答", titleReply: "标题"}
	svc, _, sessionID := newTestChatService(t, client)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, 1, sessionID, "第一条")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return client.titleCallCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = svc.SendMessage(ctx, 1, sessionID, "第二条")
	require.NoError(t, err)

	// 给旁路任务一点时间，确认没有第二次标题调用
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, client.titleCallCount())
}

func TestSendMessageCompletionFailureRemovesPlaceholder(t *testing.T) {
	client := &fakeCompletionClient{err: errors.New("upstream timeout")}
	svc, store, sessionID := newTestChatService(t, client)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, 1, sessionID, "会失败的消息")
	require.Error(t, err)
	assert.ErrorIs(t, err, chaterr.ErrCompletion)

	// 用户消息保留，占位助手消息不能以任何形式残留
	messages, err := store.GetMessages(ctx, 1, sessionID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, "会失败的消息", messages[0].Content)
}

func TestSendMessageTitleFailureKeepsDefaultTitle(t *testing.T) {
	client := &fakeCompletionClient{
		answer:   "回答",
		titleErr: errors.New("rate limited"),
	}
	svc, store, sessionID := newTestChatService(t, client)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, 1, sessionID, "你好")
	require.NoError(t, err)

	// 标题生成单次尝试、失败静默：标题保持默认值，且不再重试
	require.Eventually(t, func() bool {
		return client.titleCallCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	session, err := store.GetSession(ctx, 1, sessionID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSessionTitle, session.Title)
	assert.Equal(t, 1, client.titleCallCount())
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	client := &fakeCompletionClient{answer: "回答"}
	svc, _, sessionID := newTestChatService(t, client)

	_, err := svc.SendMessage(context.Background(), 1, sessionID, "   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, chaterr.ErrValidation)
}

func TestSendMessageSingleFlightPerSession(t *testing.T) {
	block := make(chan struct{})
	client := &fakeCompletionClient{answer: "回答", titleReply: "标题", block: block}
	svc, _, sessionID := newTestChatService(t, client)
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(ctx, 1, sessionID, "第一条")
		firstDone <- err
	}()

	// 等第一次调用进入阻塞的补全阶段
	time.Sleep(50 * time.Millisecond)

	_, err := svc.SendMessage(ctx, 1, sessionID, "并发的第二条")
	require.Error(t, err, "同一会话的并发交互必须被拒绝")
	assert.ErrorIs(t, err, chaterr.ErrValidation)
	assert.True(t, strings.Contains(err.Error(), "进行中"))

	close(block)
	require.NoError(t, <-firstDone)

	// 第一次完成后，会话解锁，可以继续发送
	client.mu.Lock()
	client.block = nil
	client.mu.Unlock()
	_, err = svc.SendMessage(ctx, 1, sessionID, "第三条")
	require.NoError(t, err)
}
