package server

import (
	"arcscan/internal/core/advanced"
	"arcscan/internal/core/analysis"
	"arcscan/internal/core/export"
	"arcscan/internal/core/history"
	"arcscan/internal/health"
	"arcscan/internal/platform/backend"
	"arcscan/internal/platform/redis"

	"github.com/gofiber/fiber/v2"
)

type Dependencies struct {
	Analysis *analysis.Service
	Advanced *advanced.Service
	History  *history.Store
	Export   *export.Service
	Backend  *backend.Client
	Redis    *redis.Service
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	// Health endpoints
	healthHandler := health.NewHealthHandler(d.Redis, d.Backend)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	analysisHandler := analysis.NewHandler(d.Analysis)
	api.Post("/analyze", analysisHandler.HandleAnalyze)
	api.Get("/analyze/:jobKey/progress", analysisHandler.HandleProgress)
	api.Get("/analyze/:jobKey/partial", analysisHandler.HandlePartial)
	api.Get("/analyze/:jobKey/results", analysisHandler.HandleResults)
	api.Post("/analyze/:jobKey/reset", analysisHandler.HandleReset)

	exportHandler := export.NewHandler(d.Export)
	api.Post("/analyze/:jobKey/export", exportHandler.HandleExport)

	advancedHandler := advanced.NewHandler(d.Advanced)
	api.Post("/analyze/advanced-emotions", advancedHandler.HandleTrigger)
	api.Get("/progress/advanced/:locator", advancedHandler.HandleProgress)
	api.Get("/results/advanced/:locator", advancedHandler.HandleResults)

	historyHandler := history.NewHandler(d.History, d.Backend)
	api.Get("/history/:userId", historyHandler.HandleList)

	return healthHandler
}
