package middleware

import (
	"net/http"

	"double-ai-go/internal/model"

	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware 创建一个 Gin 中间件，用于校验管理员权限。
// 必须在 AuthMiddleware 之后使用，角色判断基于数据库中的最新数据，
// 而不是 token 签发时的快照。
func AdminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get("user")
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未认证"})
			return
		}

		user, ok := value.(*model.User)
		if !ok || user.Role != "ADMIN" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "需要管理员权限"})
			return
		}

		c.Next()
	}
}
