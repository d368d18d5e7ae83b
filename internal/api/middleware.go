package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"learnhub/internal/apperr"
	"learnhub/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const principalKey = "principal"

// Principal is the authenticated caller extracted from the bearer token
type Principal struct {
	UserID int64
	Role   string
}

// AuthMiddleware validates the Authorization bearer token and stores the
// principal on the request context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	secretBytes := []byte(secret)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			apperr.WriteJSON(c, apperr.Unauthorized("thiếu token xác thực"))
			c.Abort()
			return
		}
		if !strings.HasPrefix(header, "Bearer ") {
			apperr.WriteJSON(c, apperr.Unauthorized("token không đúng định dạng"))
			c.Abort()
			return
		}

		token, err := jwt.Parse(header[7:], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secretBytes, nil
		})
		if err != nil || !token.Valid {
			apperr.WriteJSON(c, apperr.Unauthorized("token không hợp lệ hoặc đã hết hạn"))
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			apperr.WriteJSON(c, apperr.Unauthorized("token không hợp lệ hoặc đã hết hạn"))
			c.Abort()
			return
		}

		principal, err := principalFromClaims(claims)
		if err != nil {
			apperr.WriteJSON(c, apperr.Unauthorized("token không hợp lệ hoặc đã hết hạn"))
			c.Abort()
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// principalFromClaims accepts the subject as either a string or a JSON number
func principalFromClaims(claims jwt.MapClaims) (Principal, error) {
	var userID int64
	switch sub := claims["sub"].(type) {
	case string:
		id, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			return Principal{}, fmt.Errorf("invalid subject claim: %w", err)
		}
		userID = id
	case float64:
		userID = int64(sub)
	default:
		return Principal{}, fmt.Errorf("missing subject claim")
	}

	role, _ := claims["role"].(string)
	return Principal{UserID: userID, Role: role}, nil
}

// CurrentPrincipal returns the authenticated caller set by AuthMiddleware
func CurrentPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// RequireRole rejects callers whose token does not carry the role
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok || p.Role != role {
			apperr.WriteJSON(c, apperr.New(403, "bạn không có quyền thực hiện thao tác này"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
