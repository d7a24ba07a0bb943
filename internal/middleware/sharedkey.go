package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// KeyParam 共享密钥所在的查询参数
const KeyParam = "k"

// KeyVerifier 校验共享密钥
type KeyVerifier interface {
	Verify(candidate string) bool
}

// SharedKey 共享密钥校验中间件
//
// 密钥缺失或错误时直接中止连接，不写任何状态行和响应体。
// 必须注册在 NoRoute 之前生效的全局中间件链中。
func SharedKey(verifier KeyVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !verifier.Verify(c.Query(KeyParam)) {
			logger.Debug("rejected request without valid key",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", c.ClientIP()),
			)
			panic(http.ErrAbortHandler)
		}
		c.Next()
	}
}
