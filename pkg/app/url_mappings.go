package app

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osvaldoandrade/captureq/internal/controllers"
	"github.com/osvaldoandrade/captureq/internal/middleware"
	"github.com/osvaldoandrade/captureq/internal/ratelimit"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", controllers.NewHealthController(app.Redis).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := app.Engine.Group("/v1/captureq",
		middleware.RateLimitByClient(app.RateLimiter, "ops", ratelimit.Bucket(app.Config.OpsRateLimit)))
	{
		v1.GET("/captures/:uuid", controllers.NewCaptureStatusController(app.Repo).Handle)

		admin := v1.Group("/admin", middleware.RequireAdmin(app.Config.AdminAuthSecret))
		admin.GET("/queues", controllers.NewQueuesAdminController(app.Repo).Handle)
		admin.POST("/reconcile", controllers.NewReconcileController(app.Reconciler).Handle)
	}
}
