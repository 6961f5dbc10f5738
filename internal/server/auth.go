package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// auth validates the Bearer token and binds the request to its subject.
// A valid token for a different owner than the path names is rejected
// with 403; everything else invalid is 401.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject"})
			return
		}
		if sub != c.Param("owner") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token does not match requested user"})
			return
		}

		c.Set("owner", sub)
		c.Next()
	}
}

// owner returns the authenticated user set by the auth middleware.
func owner(c *gin.Context) string {
	return c.GetString("owner")
}

// MintToken signs a development HS256 JWT for user. Used by the swb
// token command and by tests; not an auth system.
func MintToken(secret, user string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("server: jwt secret is required")
	}
	if user == "" {
		return "", fmt.Errorf("server: user is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("server: sign token: %w", err)
	}
	return signed, nil
}
