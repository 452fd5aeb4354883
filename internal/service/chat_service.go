// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"double-ai-go/internal/chaterr"
	"double-ai-go/internal/config"
	"double-ai-go/internal/model"
	"double-ai-go/pkg/events"
	"double-ai-go/pkg/log"
	"double-ai-go/pkg/openai"
)

// titleInstruction 是标题生成任务使用的固定指令。
const titleInstruction = "Your task is to create a very concise title (4 words max) for a chat " +
	"based on this first user message. Return only the title, nothing else."

const titleMaxTokens = 20

// ExchangeResult 是一次问答交互的结果。
type ExchangeResult struct {
	UserMessage      *model.ChatMessage `json:"userMessage"`
	AssistantMessage *model.ChatMessage `json:"assistantMessage"`
}

// ChatService 驱动一次发送消息的完整请求/响应周期：
// 追加用户消息与占位助手消息 -> 解析有效配置 -> 调用补全服务 ->
// 定稿或撤掉占位消息，并在首次交互时触发标题生成旁路任务。
type ChatService interface {
	SendMessage(ctx context.Context, userID uint, sessionID, content string) (*ExchangeResult, error)
}

// chatService 是 ChatService 接口的实现。
type chatService struct {
	store    SessionStore
	resolver SettingsResolver
	client   openai.Client
	reporter events.Reporter

	// inflight 实现会话粒度的 single-flight：
	// 同一会话同时只允许一次进行中的交互，后来者被拒绝而不是排队。
	inflight sync.Map // key: sessionID, value: struct{}{}
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(store SessionStore, resolver SettingsResolver, client openai.Client, reporter events.Reporter) ChatService {
	return &chatService{
		store:    store,
		resolver: resolver,
		client:   client,
		reporter: reporter,
	}
}

// SendMessage 执行一次完整的问答交互。
// 失败路径保证：用户消息永不丢失，占位助手消息绝不以 isLoading 状态残留。
func (s *chatService) SendMessage(ctx context.Context, userID uint, sessionID, content string) (*ExchangeResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: 消息内容不能为空", chaterr.ErrValidation)
	}

	if _, busy := s.inflight.LoadOrStore(sessionID, struct{}{}); busy {
		return nil, fmt.Errorf("%w: 该会话已有一次进行中的交互", chaterr.ErrValidation)
	}
	// 无论成功失败都必须释放，否则会话会被永久锁死
	defer s.inflight.Delete(sessionID)

	// 在追加之前判断是否首次真实交互（忽略 system 消息），用于决定是否生成标题
	prior, err := s.store.GetMessages(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	firstExchange := true
	for _, m := range prior {
		if m.Role != model.RoleSystem {
			firstExchange = false
			break
		}
	}

	userMessage, err := s.store.AppendMessage(ctx, userID, sessionID, model.RoleUser, content)
	if err != nil {
		return nil, err
	}

	placeholder, err := s.store.AppendPlaceholder(userID, sessionID)
	if err != nil {
		return nil, err
	}

	settings, err := s.resolver.ResolveEffectiveSettings(ctx, userID)
	if err != nil {
		s.store.RemoveMessage(userID, sessionID, placeholder.ID)
		return nil, err
	}

	answer, err := s.client.Complete(ctx, s.composeMessages(settings.SystemPrompt, prior, content), openai.CompletionOptions{
		APIKey:      settings.APIKey,
		Model:       settings.Model,
		Temperature: &settings.Temperature,
	})
	if err != nil {
		// 占位消息整条移除：用户消息保留，列表长度回到占位之前
		s.store.RemoveMessage(userID, sessionID, placeholder.ID)
		log.Errorf("补全调用失败: sessionID=%s, err=%v", sessionID, err)
		return nil, fmt.Errorf("%w: %v", chaterr.ErrCompletion, err)
	}

	assistantMessage, err := s.store.FinalizeMessage(ctx, userID, sessionID, placeholder.ID, answer)
	if err != nil {
		return nil, err
	}

	if firstExchange {
		// 旁路任务：发后不理，单次尝试，失败静默。绝不阻塞主响应路径。
		go s.generateTitle(context.Background(), userID, sessionID, content)
	}

	s.reporter.Report(ctx, events.ChatEvent{
		Type:      events.EventExchangeCompleted,
		UserID:    userID,
		SessionID: sessionID,
	})

	return &ExchangeResult{
		UserMessage:      userMessage,
		AssistantMessage: assistantMessage,
	}, nil
}

// composeMessages 组装发给补全服务的完整上下文：
// 系统提示词 + 既有转写（跳过 system 与未定稿消息）+ 本次用户输入。
func (s *chatService) composeMessages(systemPrompt string, history []model.ChatMessage, userInput string) []openai.Message {
	msgs := make([]openai.Message, 0, len(history)+2)
	msgs = append(msgs, openai.Message{Role: model.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		if m.Role == model.RoleSystem || m.IsLoading {
			continue
		}
		msgs = append(msgs, openai.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, openai.Message{Role: model.RoleUser, Content: userInput})
	return msgs
}

// generateTitle 根据首条用户消息生成简短标题并尽力重命名会话。
// 任何失败都只记日志：保留默认标题，不重试，绝不打扰用户。
func (s *chatService) generateTitle(ctx context.Context, userID uint, sessionID, firstUserMessage string) {
	settings, err := s.resolver.ResolveEffectiveSettings(ctx, userID)
	if err != nil {
		log.Warnf("标题生成跳过，无法解析设置: sessionID=%s, err=%v", sessionID, err)
		return
	}

	titleModel := config.Conf.OpenAI.TitleModel
	if titleModel == "" {
		titleModel = settings.Model
	}
	maxTokens := titleMaxTokens
	temperature := 0.7

	title, err := s.client.Complete(ctx, []openai.Message{
		{Role: model.RoleSystem, Content: titleInstruction},
		{Role: model.RoleUser, Content: firstUserMessage},
	}, openai.CompletionOptions{
		APIKey:      settings.APIKey,
		Model:       titleModel,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		log.Warnf("标题生成失败，保留默认标题: sessionID=%s, err=%v", sessionID, err)
		return
	}

	title = strings.Trim(strings.TrimSpace(title), "\"'")
	if title == "" {
		return
	}
	s.store.RenameSession(ctx, userID, sessionID, title)
}
