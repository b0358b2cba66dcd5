package handlers

import (
	"net/http"

	"pulsechain-portfolio-api/internal/services"
	"pulsechain-portfolio-api/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router handles HTTP routing setup
type Router struct {
	portfolioHandler *PortfolioHandler
	healthHandler    *HealthHandler
	service          services.PortfolioServiceInterface
	metrics          *metrics.MetricsCollector
}

// NewRouter creates a new Router instance with all handlers
func NewRouter(service services.PortfolioServiceInterface, healthHandler *HealthHandler, mc *metrics.MetricsCollector) *Router {
	return &Router{
		portfolioHandler: NewPortfolioHandler(service),
		healthHandler:    healthHandler,
		service:          service,
		metrics:          mc,
	}
}

// SetupRoutes configures all API routes, applying mw to the /api group only
func (r *Router) SetupRoutes(engine *gin.Engine, mw ...gin.HandlerFunc) {
	api := engine.Group("/api", mw...)
	{
		api.GET("/wallet/:address", r.portfolioHandler.GetWallet)
		api.GET("/wallet/:address/transactions", r.portfolioHandler.GetTransactions)
		api.GET("/wallet/:address/progress", r.portfolioHandler.GetProgress)

		api.GET("/price/:token", r.portfolioHandler.GetPrice)
		api.POST("/prices", r.portfolioHandler.GetPrices)

		api.DELETE("/cache/wallet/:address", r.portfolioHandler.InvalidateWallet)
		api.DELETE("/cache", r.portfolioHandler.ClearCache)
	}
}

// SetupHealthRoutes configures health check routes
func (r *Router) SetupHealthRoutes(engine *gin.Engine) {
	health := engine.Group("/health")
	{
		health.GET("", r.healthHandler.GetHealth)
		health.GET("/live", r.healthHandler.GetLiveness)
		health.GET("/ready", r.healthHandler.GetReadiness)
	}
}

// SetupMetricsRoutes exposes the JSON summary and the prometheus registry
func (r *Router) SetupMetricsRoutes(engine *gin.Engine) {
	engine.GET("/metrics", r.metricsSummary)
	engine.GET("/metrics/prometheus", gin.WrapH(promhttp.HandlerFor(r.metrics.Registry(), promhttp.HandlerOpts{})))
}

func (r *Router) metricsSummary(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "pulsechain-portfolio-api",
		"version": Version,
		"uptime":  r.metrics.GetUptime().String(),
		"performance": gin.H{
			"metrics":         r.metrics.GetMetrics(),
			"cache_hit_ratio": r.metrics.GetCacheHitRatio(),
			"success_rate":    r.metrics.GetSuccessRate(),
		},
		"cache": r.service.GetCacheStats(),
	})
}
