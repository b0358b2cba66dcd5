package services

import (
	"context"
	"fmt"
	"time"
)

// HealthStatus represents the health status of a service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck represents a health check result
type HealthCheck struct {
	Service      string        `json:"service"`
	Status       HealthStatus  `json:"status"`
	Message      string        `json:"message,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Pinger is a dependency that can report its reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// BlockReader reads the chain head
type BlockReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// HealthChecker checks the RPC endpoints, the logo store and the progress
// sink. A nil dependency is reported as running in memory.
type HealthChecker struct {
	chain    BlockReader
	logos    Pinger
	progress Pinger
	timeout  time.Duration
}

// NewHealthChecker creates a HealthChecker
func NewHealthChecker(chain BlockReader, logos, progress Pinger) *HealthChecker {
	return &HealthChecker{
		chain:    chain,
		logos:    logos,
		progress: progress,
		timeout:  5 * time.Second,
	}
}

// CheckRPC reads the head block through the RPC pool
func (hc *HealthChecker) CheckRPC(ctx context.Context) *HealthCheck {
	start := time.Now()
	check := &HealthCheck{Service: "rpc", Timestamp: start}

	if hc.chain == nil {
		check.Status = HealthStatusDegraded
		check.Message = "no rpc endpoints configured"
		check.ResponseTime = time.Since(start)
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	block, err := hc.chain.BlockNumber(ctx)
	if err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = fmt.Sprintf("block number failed: %v", err)
		check.ResponseTime = time.Since(start)
		return check
	}

	check.Status = HealthStatusHealthy
	check.Message = fmt.Sprintf("head block %d", block)
	check.ResponseTime = time.Since(start)
	return check
}

// CheckLogoStore pings the logo store
func (hc *HealthChecker) CheckLogoStore(ctx context.Context) *HealthCheck {
	return hc.ping(ctx, "logo_store", hc.logos)
}

// CheckProgressSink pings the progress sink
func (hc *HealthChecker) CheckProgressSink(ctx context.Context) *HealthCheck {
	return hc.ping(ctx, "progress_sink", hc.progress)
}

func (hc *HealthChecker) ping(ctx context.Context, service string, p Pinger) *HealthCheck {
	start := time.Now()
	check := &HealthCheck{Service: service, Timestamp: start}

	if p == nil {
		check.Status = HealthStatusHealthy
		check.Message = "in-memory"
		check.ResponseTime = time.Since(start)
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	// Losing either store only costs logos or progress reports.
	if err := p.Ping(ctx); err != nil {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("ping failed: %v", err)
		check.ResponseTime = time.Since(start)
		return check
	}

	check.Status = HealthStatusHealthy
	check.Message = "all checks passed"
	check.ResponseTime = time.Since(start)
	return check
}

// GetDetailedHealth returns every dependency check
func (hc *HealthChecker) GetDetailedHealth(ctx context.Context) map[string]*HealthCheck {
	return map[string]*HealthCheck{
		"rpc":           hc.CheckRPC(ctx),
		"logo_store":    hc.CheckLogoStore(ctx),
		"progress_sink": hc.CheckProgressSink(ctx),
	}
}

// OverallStatus folds individual checks into one status
func OverallStatus(checks map[string]*HealthCheck) HealthStatus {
	overall := HealthStatusHealthy
	for _, check := range checks {
		if check.Status == HealthStatusUnhealthy {
			return HealthStatusUnhealthy
		}
		if check.Status == HealthStatusDegraded {
			overall = HealthStatusDegraded
		}
	}
	return overall
}
