package middleware

import (
	"bytes"
	"io"
	"time"

	"double-ai-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// bodyLogWriter 包装了 gin.ResponseWriter，以便在写入响应的同时捕获响应体。
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口。
func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// RequestLogger 创建一个记录请求和响应详情的 Gin 中间件。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// 读取并恢复请求体，以便后续 handler 还能读取
		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		cost := time.Since(start)
		log.Infow("request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"status", c.Writer.Status(),
			"cost", cost.String(),
			"client_ip", c.ClientIP(),
		)
	}
}
