package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/docintel/internal/metrics"
	"github.com/osvaldoandrade/docintel/internal/ratelimit"
)

// Throttle answers 429 with Retry-After once the caller's bucket is empty.
// Callers are identified by subscription key or bearer token.
func Throttle(lim ratelimit.Limiter, bucket ratelimit.Bucket, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}
		subject := strings.TrimSpace(c.GetHeader(keyHeader))
		if subject == "" {
			subject = bearerToken(c.GetHeader("Authorization"))
		}

		dec, err := lim.Allow(c.Request.Context(), subject, bucket)
		if err != nil {
			logger.Warn("throttle check failed", "path", c.FullPath(), "err", err)
			c.Next()
			return
		}
		if dec.Allowed {
			c.Next()
			return
		}

		retryAfter := max(int(dec.RetryAfter.Seconds()), 1)
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		metrics.EmulatorThrottledTotal.WithLabelValues(c.FullPath()).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{
			"code":    "429",
			"message": "Requests to the analyze operation have exceeded the rate limit. Please retry after " + strconv.Itoa(retryAfter) + " seconds.",
		}})
	}
}

func bearerToken(authHeader string) string {
	parts := strings.SplitN(strings.TrimSpace(authHeader), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
