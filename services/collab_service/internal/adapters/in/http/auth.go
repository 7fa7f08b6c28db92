package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

const (
	ctxUserKey      = "collab_user"
	defaultUserType = "employee"
)

// AuthMiddleware JWT认证中间件
// 浏览器的 WebSocket 无法带 Authorization 头，所以也接受 ?token=
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		user, ok := participantFromClaims(claims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			return
		}
		c.Set(ctxUserKey, user)
		c.Next()
	}
}

// CurrentUser 当前登录用户
func CurrentUser(c *gin.Context) (entity.Participant, bool) {
	v, ok := c.Get(ctxUserKey)
	if !ok {
		return entity.Participant{}, false
	}
	user, ok := v.(entity.Participant)
	return user, ok
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return c.Query("token")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// participantFromClaims 从 claims 中提取 user_id / user_type / name
func participantFromClaims(claims jwt.MapClaims) (entity.Participant, bool) {
	userID, ok := claims["user_id"].(float64)
	if !ok || userID <= 0 {
		return entity.Participant{}, false
	}
	user := entity.Participant{ID: uint64(userID), Type: defaultUserType}
	if userType, ok := claims["user_type"].(string); ok && userType != "" {
		user.Type = userType
	}
	if name, ok := claims["name"].(string); ok {
		user.Name = name
	}
	return user, true
}
