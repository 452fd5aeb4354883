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

// SettingsHandler 负责处理用户个人设置相关的 API 请求。
type SettingsHandler struct {
	resolver service.SettingsResolver
}

// NewSettingsHandler 创建一个新的 SettingsHandler 实例。
func NewSettingsHandler(resolver service.SettingsResolver) *SettingsHandler {
	return &SettingsHandler{resolver: resolver}
}

// GetSettings 返回当前用户的个人设置。
// 个人 API Key 永远不会以明文返回：有值时为 "[ENCRYPTED]" 占位符。
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	view, err := h.resolver.GetUserSettings(c.Request.Context(), user.ID)
	if err != nil {
		log.Errorf("GetSettings: failed for user %d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "获取设置失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// UpdateSettings 更新当前用户的个人设置。
// 请求体中缺省的字段不会被修改；personalApiKey 回传 "[ENCRYPTED]" 表示保持原值。
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	var patch service.UserSettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载",
		})
		return
	}

	view, err := h.resolver.UpdateUserSettings(c.Request.Context(), user.ID, patch)
	if err != nil {
		if errors.Is(err, chaterr.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    http.StatusBadRequest,
				"message": err.Error(),
			})
			return
		}
		log.Errorf("UpdateSettings: failed for user %d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "更新设置失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// currentUser 从上下文中取出 AuthMiddleware 注入的用户对象。
// 取不到时直接写出 401 响应并返回 nil。
func currentUser(c *gin.Context) *model.User {
	value, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    http.StatusUnauthorized,
			"message": "未认证",
		})
		return nil
	}
	user, ok := value.(*model.User)
	if !ok || user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "用户数据类型错误",
		})
		return nil
	}
	return user
}
