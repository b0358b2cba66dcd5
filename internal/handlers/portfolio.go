package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/internal/services"
	"pulsechain-portfolio-api/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MaxBatchPriceTokens bounds POST /api/prices
const MaxBatchPriceTokens = 100

// PortfolioHandler serves wallet, history and price requests
type PortfolioHandler struct {
	service services.PortfolioServiceInterface
}

// NewPortfolioHandler creates a new PortfolioHandler instance
func NewPortfolioHandler(service services.PortfolioServiceInterface) *PortfolioHandler {
	return &PortfolioHandler{service: service}
}

// BatchPriceRequest is the body of POST /api/prices
type BatchPriceRequest struct {
	Tokens []string `json:"tokens"`
}

// BatchPriceResponse maps token address to quote
type BatchPriceResponse struct {
	Prices map[string]*models.PriceQuote `json:"prices"`
	Count  int                           `json:"count"`
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, models.NewAppErrorWithDetails(models.ErrorCodeInvalidRequest,
			"Invalid query parameter", name+" must be a non-negative integer")
	}
	return n, nil
}

func walletParam(c *gin.Context) (string, error) {
	address := c.Param("address")
	if err := services.ValidateAddress(address); err != nil {
		return "", models.NewAppErrorWithDetails(models.ErrorCodeInvalidWallet,
			"Invalid wallet address format", "Wallet address: "+address)
	}
	return models.NormalizeAddress(address), nil
}

func validToken(address string) bool {
	return common.IsHexAddress(strings.TrimSpace(address))
}

// GetWallet handles GET /api/wallet/:address
func (h *PortfolioHandler) GetWallet(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	address, err := walletParam(c)
	if err != nil {
		models.HandleError(c, err, log)
		return
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		models.HandleError(c, err, log)
		return
	}
	limit, err := queryInt(c, "limit", -1)
	if err != nil {
		models.HandleError(c, err, log)
		return
	}
	refresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "false"))

	snapshot := h.service.GetWalletSnapshot(c.Request.Context(), address, page, limit, refresh)

	log.Info("Wallet snapshot served",
		zap.String("wallet_address", address),
		zap.Int("token_count", snapshot.TokenCount),
		zap.String("status", string(snapshot.Status)),
		zap.Bool("cached", snapshot.Cached),
	)

	status := http.StatusOK
	if snapshot.Status == models.StatusError {
		status = http.StatusBadGateway
	}
	c.JSON(status, snapshot)
}

// GetTransactions handles GET /api/wallet/:address/transactions
func (h *PortfolioHandler) GetTransactions(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	address, err := walletParam(c)
	if err != nil {
		models.HandleError(c, err, log)
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		models.HandleError(c, err, log)
		return
	}

	history := h.service.GetTransactionHistory(c.Request.Context(), address, limit, c.Query("cursor"))

	status := http.StatusOK
	if history.Status == models.StatusError {
		status = http.StatusBadGateway
	}
	c.JSON(status, history)
}

// GetProgress handles GET /api/wallet/:address/progress
func (h *PortfolioHandler) GetProgress(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	address, err := walletParam(c)
	if err != nil {
		models.HandleError(c, err, log)
		return
	}

	progress, err := h.service.GetProgress(c.Request.Context(), address)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			models.HandleError(c, models.NewAppErrorWithDetails(models.ErrorCodeNotFound,
				"No progress reported", "Wallet address: "+address), log)
			return
		}
		models.HandleError(c, models.NewAppErrorWithCause(models.ErrorCodeUpstreamUnavailable,
			"Progress store unavailable", err), log)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// GetPrice handles GET /api/price/:token
func (h *PortfolioHandler) GetPrice(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	token := c.Param("token")
	if !validToken(token) {
		models.HandleError(c, models.NewAppErrorWithDetails(models.ErrorCodeInvalidToken,
			"Invalid token address format", "Token address: "+token), log)
		return
	}

	quote := h.service.GetTokenPrice(c.Request.Context(), token)
	if quote == nil {
		models.HandleError(c, models.NewAppErrorWithDetails(models.ErrorCodePriceNotFound,
			"No price available", "Token address: "+token), log)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// GetPrices handles POST /api/prices
func (h *PortfolioHandler) GetPrices(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	var req BatchPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		models.HandleError(c, models.NewAppErrorWithDetails(models.ErrorCodeMalformedJSON,
			"Invalid JSON format", err.Error()), log)
		return
	}
	if len(req.Tokens) == 0 {
		models.HandleError(c, models.NewAppErrorWithDetails(models.ErrorCodeInvalidRequest,
			"Tokens array cannot be empty", "At least one token address must be provided"), log)
		return
	}
	if len(req.Tokens) > MaxBatchPriceTokens {
		models.HandleError(c, models.NewAppErrorWithDetails(models.ErrorCodeInvalidRequest,
			"Too many tokens", "At most "+strconv.Itoa(MaxBatchPriceTokens)+" tokens per request"), log)
		return
	}
	for i, token := range req.Tokens {
		if !validToken(token) {
			appErr := models.NewAppErrorWithDetails(models.ErrorCodeInvalidToken,
				"Invalid token address format", "Token address: "+token).
				WithContext("token_index", i)
			models.HandleError(c, appErr, log)
			return
		}
	}

	prices := h.service.GetBatchTokenPrices(c.Request.Context(), req.Tokens)
	c.JSON(http.StatusOK, BatchPriceResponse{Prices: prices, Count: len(prices)})
}

// InvalidateWallet handles DELETE /api/cache/wallet/:address
func (h *PortfolioHandler) InvalidateWallet(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	address, err := walletParam(c)
	if err != nil {
		models.HandleError(c, err, log)
		return
	}
	h.service.InvalidateWalletCache(address)
	c.JSON(http.StatusOK, gin.H{"status": "invalidated", "address": address})
}

// ClearCache handles DELETE /api/cache
func (h *PortfolioHandler) ClearCache(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	namespace := c.Query("namespace")
	if err := h.service.ClearAllCaches(namespace); err != nil {
		models.HandleError(c, models.NewAppErrorWithCause(models.ErrorCodeInvalidRequest,
			"Unknown cache namespace", err), log)
		return
	}
	if namespace == "" {
		namespace = "all"
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "namespace": namespace})
}
