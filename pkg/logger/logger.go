package logger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContextKey represents keys used in context for logging
type ContextKey string

const (
	// CorrelationIDKey is the key for correlation ID in context
	CorrelationIDKey ContextKey = "correlation_id"
	// RequestIDKey is the key for request ID in context
	RequestIDKey ContextKey = "request_id"
	// WalletKey carries the wallet address a request is about
	WalletKey ContextKey = "wallet_address"
)

const serviceName = "pulsechain-portfolio-api"

// Logger wraps zap logger with additional functionality
type Logger struct {
	*zap.Logger
}

// Config represents logger configuration
type Config struct {
	Level       string   `mapstructure:"level"`
	Environment string   `mapstructure:"environment"`
	OutputPaths []string `mapstructure:"output_paths"`
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// Initialize sets up the global logger
func Initialize(config *Config) error {
	var zapConfig zap.Config

	if config.Environment == "production" {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	zapConfig.Level = level

	if len(config.OutputPaths) > 0 {
		zapConfig.OutputPaths = config.OutputPaths
	}

	zapConfig.InitialFields = map[string]interface{}{
		"service": serviceName,
		"version": "1.0.0",
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	SetLogger(zapLogger)
	return nil
}

// SetLogger replaces the global logger, e.g. with zap.NewNop() in tests
func SetLogger(l *zap.Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = &Logger{Logger: l}
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	// Fallback to development logger if not initialized
	if err := Initialize(&Config{Level: "info", Environment: "development"}); err != nil {
		panic(fmt.Sprintf("failed to initialize fallback logger: %v", err))
	}
	return GetLogger()
}

// Component returns a logger tagged with the component name
func Component(name string) *Logger {
	return GetLogger().WithFields(map[string]interface{}{"component": name})
}

// WithContext creates a logger with context fields
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	fields := []zap.Field{}

	for _, key := range []ContextKey{CorrelationIDKey, RequestIDKey, WalletKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	if len(fields) == 0 {
		return l
	}

	return &Logger{Logger: l.Logger.With(fields...)}
}

// WithFields creates a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		zapFields = append(zapFields, zap.Any(key, value))
	}

	return &Logger{Logger: l.Logger.With(zapFields...)}
}

// ContextWithCorrelationID adds correlation ID to context
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// ContextWithRequestID adds request ID to context
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// ContextWithWallet adds the wallet address to context
func ContextWithWallet(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, WalletKey, address)
}

// GetCorrelationIDFromContext extracts correlation ID from context
func GetCorrelationIDFromContext(ctx context.Context) string {
	if correlationID, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

// LoggingMiddleware creates a Gin middleware for structured logging with correlation IDs
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		requestID := uuid.New().String()

		c.Set(string(CorrelationIDKey), correlationID)
		c.Set(string(RequestIDKey), requestID)

		ctx := c.Request.Context()
		ctx = ContextWithCorrelationID(ctx, correlationID)
		ctx = ContextWithRequestID(ctx, requestID)
		if wallet := c.Param("address"); wallet != "" {
			ctx = ContextWithWallet(ctx, strings.ToLower(wallet))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Correlation-ID", correlationID)
		c.Header("X-Request-ID", requestID)

		log := GetLogger().WithContext(ctx)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		log.Debug("Request started",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
		)

		c.Next()

		statusCode := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", statusCode),
			zap.Duration("latency", time.Since(start)),
			zap.Int("bytes", c.Writer.Size()),
		}

		switch {
		case statusCode >= 500:
			log.Error("Request completed", fields...)
		case statusCode >= 400:
			log.Warn("Request completed", fields...)
		default:
			log.Info("Request completed", fields...)
		}

		for _, err := range c.Errors {
			log.Error("Request error",
				zap.Uint64("error_type", uint64(err.Type)),
				zap.Error(err.Err),
			)
		}
	}
}

// RecoveryMiddleware creates a Gin middleware for panic recovery with logging
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		ctx := c.Request.Context()

		GetLogger().WithContext(ctx).Error("Panic recovered",
			zap.Any("panic", recovered),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
		)

		c.JSON(500, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Internal server error",
				"details": "An unexpected error occurred",
			},
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
			"correlation_id": GetCorrelationIDFromContext(ctx),
		})
	})
}
