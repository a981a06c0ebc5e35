package main

import (
	"net/http"

	"github.com/ctolnik/office-insight/server/metrics"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func (a *app) router(logger *zap.Logger) *gin.Engine {
	if a.cfg.Server.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), loggerMiddleware(logger), metricsMiddleware())

	router.GET("/health", healthHandler)
	if a.cfg.Telemetry.Metrics {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	api := router.Group("/api")
	{
		api.GET("/logs", a.getLogsHandler)
		api.GET("/activity", a.getRecentActivityHandler)
		api.GET("/screenshots/:id", a.getScreenshotHandler)
		api.DELETE("/screenshots/:id", a.deleteScreenshotHandler)

		api.GET("/analytics", a.getAnalyticsHandler)
		api.GET("/charts/activity", a.getActivityChartHandler)
		api.GET("/users", a.getUsersHandler)
		api.GET("/alerts", a.getAlertsHandler)

		api.POST("/ai/analyze", a.analyzeHandler)
		api.POST("/ai/chat", a.chatHandler)
		api.GET("/ai/history", a.analysisHistoryHandler)
	}

	return router
}

// handler wraps the router with server-side tracing when enabled.
func (a *app) handler(logger *zap.Logger) http.Handler {
	r := a.router(logger)
	if !a.cfg.Telemetry.Tracing {
		return r
	}
	return otelhttp.NewHandler(r, "office-insight")
}
