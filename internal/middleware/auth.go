package middleware

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"edulearn_backend/internal/util"
)

// ServiceKeyAuth 校验调用方的 X-API-Key。
// 引擎只面向受信的 LMS 后端，不做终端用户认证，操作者身份由请求体携带。
// 未配置哈希时放行，用于本地开发
func ServiceKeyAuth(apiKeyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKeyHash == "" {
			c.Next()
			return
		}

		key := c.GetHeader("X-API-Key")
		if key == "" {
			util.Unauthorized(c, "missing API key")
			c.Abort()
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(apiKeyHash), []byte(key)); err != nil {
			util.Unauthorized(c, "invalid API key")
			c.Abort()
			return
		}

		c.Next()
	}
}
