// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"double-ai-go/internal/chaterr"
	"double-ai-go/internal/model"
	"double-ai-go/internal/service"
	"double-ai-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SessionHandler 负责处理会话与消息相关的 API 请求。
type SessionHandler struct {
	store       service.SessionStore
	chatService service.ChatService
}

// NewSessionHandler 创建一个新的 SessionHandler 实例。
func NewSessionHandler(store service.SessionStore, chatService service.ChatService) *SessionHandler {
	return &SessionHandler{store: store, chatService: chatService}
}

// ListSessions 返回当前用户的全部会话，最近更新的排在最前。
// degraded 为 true 表示远端仓储不可达，数据来自本地缓存快照。
func (h *SessionHandler) ListSessions(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	sessions, degraded, err := h.store.LoadForUser(c.Request.Context(), user.ID)
	if err != nil {
		log.Errorf("ListSessions: failed for user %d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "加载会话列表失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"sessions":         sessions,
			"currentSessionId": h.store.CurrentSessionID(user.ID),
			"degraded":         degraded,
		},
	})
}

// CreateSessionRequest 定义了创建会话 API 的请求体结构。
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// CreateSession 为当前用户创建一个新会话并切换为当前会话。
func (h *SessionHandler) CreateSession(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	var req CreateSessionRequest
	// 请求体可以为空，此时使用默认标题
	_ = c.ShouldBindJSON(&req)
	if req.Title == "" {
		req.Title = model.DefaultSessionTitle
	}

	session, err := h.store.CreateSession(c.Request.Context(), user.ID, req.Title)
	if err != nil {
		h.writeError(c, err, "创建会话失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": session})
}

// DeleteSession 删除指定会话。删除最后一个会话时会自动补一个空白会话。
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	if err := h.store.DeleteSession(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		h.writeError(c, err, "删除会话失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"currentSessionId": h.store.CurrentSessionID(user.ID),
		},
	})
}

// RenameSessionRequest 定义了重命名会话 API 的请求体结构。
type RenameSessionRequest struct {
	Title string `json:"title" binding:"required"`
}

// RenameSession 重命名指定会话。
// 本地立即生效，远端同步尽力而为，因此这里总是返回成功。
func (h *SessionHandler) RenameSession(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	var req RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：标题不能为空",
		})
		return
	}

	h.store.RenameSession(c.Request.Context(), user.ID, c.Param("id"), req.Title)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// ClearSession 清空指定会话的全部消息。
// 实现上是删除后按原标题重建，返回的会话带有新的 ID，客户端必须切换到新 ID。
func (h *SessionHandler) ClearSession(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	session, err := h.store.ClearSession(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "清空会话失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": session})
}

// SwitchSessionRequest 定义了切换当前会话 API 的请求体结构。
type SwitchSessionRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// SwitchSession 切换当前用户的活跃会话。
func (h *SessionHandler) SwitchSession(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	var req SwitchSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载",
		})
		return
	}

	if err := h.store.SetCurrentSession(user.ID, req.SessionID); err != nil {
		h.writeError(c, err, "切换会话失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// GetMessages 返回指定会话的消息转写，按时间戳升序。
func (h *SessionHandler) GetMessages(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	messages, err := h.store.GetMessages(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "加载消息失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}

// SendMessageRequest 定义了发送消息 API 的请求体结构。
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage 在指定会话中执行一次完整的问答交互。
// 同一会话同时只允许一次进行中的交互，后来者收到 400。
func (h *SessionHandler) SendMessage(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：消息内容不能为空",
		})
		return
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), user.ID, c.Param("id"), req.Content)
	if err != nil {
		h.writeError(c, err, "发送消息失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}

// writeError 把业务错误翻译成 HTTP 状态码：
// 校验类 400，配置类 503，补全上游 502，其余 500。
func (h *SessionHandler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, chaterr.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": err.Error(),
		})
	case errors.Is(err, chaterr.ErrConfiguration):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    http.StatusServiceUnavailable,
			"message": err.Error(),
		})
	case errors.Is(err, chaterr.ErrCompletion):
		c.JSON(http.StatusBadGateway, gin.H{
			"code":    http.StatusBadGateway,
			"message": "AI 服务暂时不可用，请稍后重试",
		})
	default:
		log.Errorf("%s: %v", fallback, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": fallback,
		})
	}
}
