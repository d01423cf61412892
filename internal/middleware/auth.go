// Package middleware 提供 HTTP 请求的中间件
// 包括会话认证、CORS 跨域、日志记录等
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"techcare-server/pkg/jwt"
	"techcare-server/pkg/response"
)

// ContextKeySessionID 会话 ID 在 gin 上下文中的键名
const ContextKeySessionID = "session_id"

// AuthMiddleware 创建会话认证中间件
// 验证请求头中的 Bearer Token，并将会话 ID 存入上下文
// 参数:
//   - jwtService: JWT 服务实例，用于解析和验证令牌
//
// 返回:
//   - gin.HandlerFunc: Gin 中间件函数
func AuthMiddleware(jwtService *jwt.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 从请求头获取 Authorization 字段
		// 格式: "Bearer <token>"
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing session token")
			c.Abort() // 终止请求处理
			return
		}

		// 2. 解析 Bearer Token
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "malformed authorization header")
			c.Abort()
			return
		}
		tokenString := parts[1]

		// 3. 验证令牌
		// 解析 JWT 并验证签名和过期时间
		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "invalid or expired session token")
			c.Abort()
			return
		}

		// 4. 将会话 ID 存入上下文
		// 后续的 Handler 可以通过 c.GetString(ContextKeySessionID) 获取
		c.Set(ContextKeySessionID, claims.SessionID)

		// 5. 继续处理请求
		c.Next()
	}
}

// SessionID 从 gin 上下文取出会话 ID
// 只应在 AuthMiddleware 之后的 Handler 里调用
func SessionID(c *gin.Context) string {
	return c.GetString(ContextKeySessionID)
}
