package handlers

import (
	"net/http"
	"time"

	"pulsechain-portfolio-api/internal/services"

	"github.com/gin-gonic/gin"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checker *services.HealthChecker
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker *services.HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    services.HealthStatus            `json:"status"`
	Timestamp time.Time                        `json:"timestamp"`
	Services  map[string]*services.HealthCheck `json:"services"`
	Version   string                           `json:"version,omitempty"`
}

// GetHealth returns the status of every dependency
func (h *HealthHandler) GetHealth(c *gin.Context) {
	serviceChecks := h.checker.GetDetailedHealth(c.Request.Context())
	overallStatus := services.OverallStatus(serviceChecks)

	// Degraded still answers 200.
	statusCode := http.StatusOK
	if overallStatus == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  serviceChecks,
		Version:   Version,
	})
}

// GetLiveness returns a simple liveness check
func (h *HealthHandler) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// GetReadiness reports ready once the RPC endpoints answer
func (h *HealthHandler) GetReadiness(c *gin.Context) {
	rpcHealth := h.checker.CheckRPC(c.Request.Context())

	if rpcHealth.Status == services.HealthStatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"message":   rpcHealth.Message,
			"timestamp": time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}
