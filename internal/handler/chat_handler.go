// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"double-ai-go/internal/service"
	"double-ai-go/pkg/log"
	"double-ai-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 聊天连接。
// 浏览器的 WebSocket API 不支持自定义请求头，因此认证 token 走 URL 路径。
type ChatHandler struct {
	chatService service.ChatService
	userService service.UserService
	store       service.SessionStore
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, userService service.UserService, store service.SessionStore, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
		store:       store,
		jwtManager:  jwtManager,
	}
}

// GetWebsocketToken 为当前用户签发一个用于 WebSocket 连接的短期 token。
// 长期 token 不应该出现在 URL 里（会进代理与访问日志），连接前先换票。
func (h *ChatHandler) GetWebsocketToken(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	wsToken, err := h.jwtManager.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		log.Error("生成 WebSocket token 失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "生成 WebSocket token 失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"token": wsToken},
	})
}

// wsInbound 是客户端经 WebSocket 发来的消息帧。
type wsInbound struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

// wsOutbound 是服务端回发的消息帧。
type wsOutbound struct {
	Type      string      `json:"type"` // "exchange" 或 "error"
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Handle 处理一个传入的 WebSocket 连接。
// 每个文本帧是一次独立的问答交互，响应在同一连接上回发。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}
	if h.userService.IsTokenRevoked(c.Request.Context(), tokenString) {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "token 已登出", "data": nil})
		return
	}

	user, err := h.userService.GetProfile(claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}
	if user.IsBanned || !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "账号不可用", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", user.Email)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var in wsInbound
		if err := json.Unmarshal(message, &in); err != nil {
			h.writeFrame(conn, wsOutbound{Type: "error", Message: "无效的消息格式"})
			continue
		}

		sessionID := in.SessionID
		if sessionID == "" {
			sessionID = h.store.CurrentSessionID(user.ID)
		}

		result, err := h.chatService.SendMessage(c.Request.Context(), user.ID, sessionID, in.Content)
		if err != nil {
			h.writeFrame(conn, wsOutbound{Type: "error", Message: err.Error()})
			continue
		}

		h.writeFrame(conn, wsOutbound{Type: "exchange", Data: result})
	}
}

func (h *ChatHandler) writeFrame(conn *websocket.Conn, out wsOutbound) {
	out.Timestamp = time.Now().UnixMilli()
	b, err := json.Marshal(out)
	if err != nil {
		log.Error("序列化 WebSocket 响应失败", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("写入 WebSocket 消息失败: %v", err)
	}
}
