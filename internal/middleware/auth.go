// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"line-gemini-relay/internal/service"
	"line-gemini-relay/pkg/token"
)

// AccessTokenQuery 是 websocket 升级请求携带 token 的查询参数，浏览器无法为 websocket 设置请求头。
const AccessTokenQuery = "access_token"

// AdminAuth 创建一个 Gin 中间件，要求请求携带有效的管理员 JWT。
// jwtManager 为 nil 时表示未启用认证，直接放行。
func AdminAuth(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtManager == nil {
			c.Next()
			return
		}

		tokenString, ok := bearerToken(c)
		if !ok {
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}
		if claims.Role != service.AdminRole {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "权限不足，需要管理员权限"})
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}

// bearerToken 从 Authorization 头读取 token；websocket 升级请求在没有该头时改读 access_token 参数。
// 读取失败时已写入 401 响应。
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if c.IsWebsocket() {
			if t := c.Query(AccessTokenQuery); t != "" {
				return t, true
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
		return "", false
	}

	// Token 以 "Bearer <token>" 的形式提供
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
		return "", false
	}
	return strings.TrimPrefix(authHeader, bearerPrefix), true
}
