package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osvaldoandrade/docintel/internal/controllers"
	"github.com/osvaldoandrade/docintel/internal/middleware"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	base := app.Engine.Group(app.Config.Emulator.BasePath,
		middleware.AuthMiddleware(middleware.AuthConfig{
			Key:      app.Config.Emulator.Key,
			Audience: app.Config.Emulator.Audience,
			Now:      app.Now,
		}),
	)
	{
		// The model segment carries the ":analyze" action suffix.
		base.POST("/documentModels/:model",
			middleware.Throttle(app.RateLimiter, app.Throttle, app.Logger),
			controllers.NewAnalyzeController(app.Analyze, app.Config.Emulator.BasePath).Handle)
		base.GET("/documentModels/:model/analyzeResults/:id",
			controllers.NewGetAnalyzeResultController(app.Analyze).Handle)
	}
}
