package controllers

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/osvaldoandrade/docintel/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	analyzeSuffix  = ":analyze"
	maxRequestBody = 50 << 20
)

type analyzeController struct {
	svc      services.AnalyzeService
	basePath string
}

func NewAnalyzeController(s services.AnalyzeService, basePath string) *analyzeController {
	return &analyzeController{svc: s, basePath: strings.TrimRight(basePath, "/")}
}

// Handle serves POST {base}/documentModels/{modelId}:analyze. The route
// parameter carries the ":analyze" suffix.
func (h *analyzeController) Handle(c *gin.Context) {
	modelID, ok := strings.CutSuffix(c.Param("model"), analyzeSuffix)
	if !ok {
		writeError(c, &services.APIError{Status: http.StatusNotFound, Code: "NotFound", Message: "Resource not found."})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody))
	if err != nil {
		writeError(c, &services.APIError{Status: http.StatusRequestEntityTooLarge, Code: "InvalidRequest", Message: "Request body too large."})
		return
	}

	apiVersion := c.Query("api-version")
	op, err := h.svc.Start(c.Request.Context(), services.StartInput{
		ModelID:     modelID,
		APIVersion:  apiVersion,
		ContentType: c.ContentType(),
		Body:        body,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	loc := url.URL{
		Scheme:   scheme,
		Host:     c.Request.Host,
		Path:     h.basePath + "/documentModels/" + modelID + "/analyzeResults/" + op.ID,
		RawQuery: url.Values{"api-version": []string{apiVersion}}.Encode(),
	}
	c.Header("Operation-Location", loc.String())
	c.Status(http.StatusAccepted)
}
