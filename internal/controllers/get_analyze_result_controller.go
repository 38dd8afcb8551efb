package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/docintel/internal/services"

	"github.com/gin-gonic/gin"
)

type getAnalyzeResultController struct{ svc services.AnalyzeService }

func NewGetAnalyzeResultController(s services.AnalyzeService) *getAnalyzeResultController {
	return &getAnalyzeResultController{svc: s}
}

func (h *getAnalyzeResultController) Handle(c *gin.Context) {
	if c.Query("api-version") == "" {
		writeError(c, &services.APIError{Status: http.StatusBadRequest, Code: "MissingApiVersionParameter", Message: "The api-version query parameter (?api-version=) is required for all requests."})
		return
	}
	body, err := h.svc.Poll(c.Request.Context(), c.Param("model"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}
