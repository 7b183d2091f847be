// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"ollama-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// isStreamingPath 判断该路径是否为流式响应端点。
// 流式响应体可能很大且逐块产生，不做缓冲捕获。
func isStreamingPath(path string) bool {
	return strings.HasSuffix(path, "/stream") || strings.Contains(path, "/chat/ws/")
}

// RequestLogger 是一个 Gin 中间件，用于记录详细的请求和响应日志。
// 流式端点只记录请求侧信息，不捕获响应体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 记录请求开始时间
		startTime := time.Now()
		path := c.Request.URL.Path
		streaming := isStreamingPath(path)

		// 读取并重新缓存请求体
		var requestBody []byte
		if c.Request.Body != nil && !streaming {
			requestBody, _ = io.ReadAll(c.Request.Body)
			// 将读取的请求体重新设置回 c.Request.Body，以便后续处理函数可以正常读取
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		// 使用自定义的 ResponseWriter 捕获响应；流式端点保持原样
		var blw *bodyLogWriter
		if !streaming {
			blw = &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
			c.Writer = blw
		}

		// 处理请求
		c.Next()

		// 计算延迟
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		if streaming {
			log.Infow("HTTP Stream Log",
				"statusCode", statusCode,
				"latency", latency.String(),
				"clientIP", clientIP,
				"method", method,
				"path", path,
			)
			return
		}

		// 记录完整的请求和响应信息
		log.Infow("HTTP Request Log",
			"statusCode", statusCode,
			"latency", latency.String(),
			"clientIP", clientIP,
			"method", method,
			"path", path,
			"requestBody", string(requestBody),
			"responseBody", blw.body.String(),
		)
	}
}
