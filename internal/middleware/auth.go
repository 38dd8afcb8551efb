package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const keyHeader = "Ocp-Apim-Subscription-Key"

type AuthConfig struct {
	// Key is the accepted subscription key. Empty accepts any non-empty key.
	Key string
	// Audience is required in bearer tokens.
	Audience string
	Now      func() time.Time
}

// AuthMiddleware accepts either a subscription key header or a bearer token.
// Token signatures are not verified; the emulator only checks the audience
// and expiry so entra-mode clients can be exercised locally.
func AuthMiddleware(cfg AuthConfig) gin.HandlerFunc {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(c *gin.Context) {
		if key := strings.TrimSpace(c.GetHeader(keyHeader)); key != "" {
			if cfg.Key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Key)) != 1 {
				deny(c, "Access denied due to invalid subscription key or wrong API endpoint. Make sure to provide a valid key for an active subscription and use a correct regional API endpoint for your resource.")
				return
			}
			c.Set("authMode", "key")
			c.Next()
			return
		}

		authz := c.GetHeader("Authorization")
		if strings.TrimSpace(authz) == "" {
			deny(c, "Access denied due to missing subscription key. Make sure to include subscription key when making requests to an API.")
			return
		}
		sub, err := validateBearer(cfg, authz)
		if err != nil {
			deny(c, err.Error())
			return
		}
		c.Set("authMode", "entra")
		c.Set("subject", sub)
		c.Next()
	}
}

func validateBearer(cfg AuthConfig, authHeader string) (string, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("invalid Authorization format")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(parts[1]), claims); err != nil {
		return "", fmt.Errorf("invalid bearer token: %v", err)
	}
	aud, err := claims.GetAudience()
	if err != nil || !slices.Contains(aud, cfg.Audience) {
		return "", fmt.Errorf("token audience must be %s", cfg.Audience)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && !cfg.Now().Before(exp.Time) {
		return "", fmt.Errorf("token is expired")
	}
	sub, _ := claims.GetSubject()
	return sub, nil
}

func deny(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "401", "message": msg}})
}
