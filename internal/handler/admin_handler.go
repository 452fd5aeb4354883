// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"double-ai-go/internal/chaterr"
	"double-ai-go/internal/service"
	"double-ai-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理管理员相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// ListUsers 分页返回用户列表。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	resp, err := h.adminService.ListUsers(page, size)
	if err != nil {
		log.Errorf("ListUsers: failed, page=%d, size=%d: %v", page, size, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "获取用户列表失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": resp})
}

// SetUserBannedRequest 定义了封禁/解封 API 的请求体结构。
type SetUserBannedRequest struct {
	Banned *bool `json:"banned" binding:"required"`
}

// SetUserBanned 封禁或解封指定用户。封禁立即生效：该用户的存量 token 会被认证中间件拒绝。
func (h *AdminHandler) SetUserBanned(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的用户 ID",
		})
		return
	}

	var req SetUserBannedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载",
		})
		return
	}

	if err := h.adminService.SetUserBanned(uint(userID), *req.Banned); err != nil {
		if errors.Is(err, chaterr.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    http.StatusBadRequest,
				"message": err.Error(),
			})
			return
		}
		log.Errorf("SetUserBanned: failed for user %d: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "更新用户状态失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// GetGlobalSettings 返回脱敏后的全局设置。
func (h *AdminHandler) GetGlobalSettings(c *gin.Context) {
	view, err := h.adminService.GetGlobalSettings(c.Request.Context())
	if err != nil {
		log.Error("GetGlobalSettings: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "获取全局设置失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// UpdateGlobalSettings 应用管理员提交的全局设置补丁。
// globalApiKey 回传 "[ENCRYPTED]" 表示保持原值，空字符串表示清除。
func (h *AdminHandler) UpdateGlobalSettings(c *gin.Context) {
	var patch service.GlobalSettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载",
		})
		return
	}

	view, err := h.adminService.UpdateGlobalSettings(c.Request.Context(), patch)
	if err != nil {
		if errors.Is(err, chaterr.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    http.StatusBadRequest,
				"message": err.Error(),
			})
			return
		}
		log.Error("UpdateGlobalSettings: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "更新全局设置失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}
