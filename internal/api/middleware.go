package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

// crmUserKey 是解析后的调用方身份在 Gin 上下文中的键。
const crmUserKey = "crm_user_id"

// AuthMiddleware 创建一个 Gin 中间件，验证 JWT 并取出 crm_user_id。
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权标头"})
			c.Abort()
			return
		}

		// 我们期望的格式是 "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "授权标头格式不正确"})
			c.Abort()
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("非预期的签名方法")
			}
			return []byte(jwtSecret), nil
		})
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的 token"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的 token"})
			c.Abort()
			return
		}
		// 优先取显式的 crm_user_id，兼容仅有 sub 的令牌
		userID, ok := claims[crmUserKey].(float64)
		if !ok {
			userID, ok = claims["sub"].(float64)
		}
		if !ok || userID <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token 缺少用户标识"})
			c.Abort()
			return
		}
		c.Set(crmUserKey, int64(userID))
		c.Next()
	}
}

// callerID 从上下文取出已认证的调用方身份。
func callerID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(crmUserKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
