// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"strconv"
	"time"

	"estate-assist-go/pkg/log"
	"estate-assist-go/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// maxLoggedBody 是日志中请求体/响应体保留的最大字节数。
const maxLoggedBody = 2048

// cappedBuffer 只保留前 max 个字节，写入永远成功。
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }

// teeReadCloser 在处理函数读取请求体时顺带记录一份。
type teeReadCloser struct {
	io.Reader
	io.Closer
}

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *cappedBuffer
}

// Write 将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	_, _ = w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志并上报延迟指标。
// 请求体不会被提前读取：只记录处理函数实际读到的部分，请求头（包括 Authorization）不记录。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestBody := &cappedBuffer{max: maxLoggedBody}
		if c.Request.Body != nil {
			c.Request.Body = teeReadCloser{Reader: io.TeeReader(c.Request.Body, requestBody), Closer: c.Request.Body}
		}

		blw := &bodyLogWriter{body: &cappedBuffer{max: maxLoggedBody}, ResponseWriter: c.Writer}
		// websocket 升级需要底层的 http.Hijacker，保持原 writer
		if !c.IsWebsocket() {
			c.Writer = blw
		}

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(statusCode)).Observe(latency.Seconds())

		log.Infow("HTTP Request Log",
			"statusCode", statusCode,
			"latency", latency.String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", requestBody.String(),
			"responseBody", blw.body.String(),
		)
	}
}
