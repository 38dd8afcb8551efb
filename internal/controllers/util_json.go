package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/osvaldoandrade/docintel/internal/services"

	"github.com/gin-gonic/gin"
)

// writeError renders err in the service error envelope:
// {"error":{"code":...,"message":...}}.
func writeError(c *gin.Context, err error) {
	var apiErr *services.APIError
	if !errors.As(err, &apiErr) {
		if l, ok := c.Get("logger"); ok {
			l.(*slog.Logger).Error("request failed", "path", c.Request.URL.Path, "err", err)
		}
		apiErr = &services.APIError{Status: http.StatusInternalServerError, Code: "InternalServerError", Message: "An unexpected error occurred."}
	}
	c.Header("x-ms-error-code", apiErr.Code)
	c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": gin.H{"code": apiErr.Code, "message": apiErr.Message}})
}
