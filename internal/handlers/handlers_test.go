package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"pulsechain-portfolio-api/internal/models"
	"pulsechain-portfolio-api/internal/services"
	"pulsechain-portfolio-api/pkg/logger"
	"pulsechain-portfolio-api/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

const (
	wallet = "0x1111111111111111111111111111111111111111"
	token  = "0xa1077a294dde1b09bb078844df40758a5d0f9a27"
)

type snapshotCall struct {
	address string
	page    int
	limit   int
	refresh bool
}

type fakeService struct {
	snapshot    *models.WalletSnapshot
	history     *models.TransactionHistory
	quote       *models.PriceQuote
	progress    *models.Progress
	snapCalls   []snapshotCall
	cursors     []string
	batchTokens []string
	invalidated []string
	cleared     []string
}

func (f *fakeService) GetWalletSnapshot(_ context.Context, address string, page, limit int, refresh bool) *models.WalletSnapshot {
	f.snapCalls = append(f.snapCalls, snapshotCall{address, page, limit, refresh})
	return f.snapshot
}

func (f *fakeService) GetTransactionHistory(_ context.Context, _ string, _ int, cursor string) *models.TransactionHistory {
	f.cursors = append(f.cursors, cursor)
	return f.history
}

func (f *fakeService) GetTokenPrice(context.Context, string) *models.PriceQuote { return f.quote }

func (f *fakeService) GetBatchTokenPrices(_ context.Context, tokens []string) map[string]*models.PriceQuote {
	f.batchTokens = tokens
	out := map[string]*models.PriceQuote{}
	if f.quote != nil {
		out[f.quote.TokenAddress] = f.quote
	}
	return out
}

func (f *fakeService) GetProgress(context.Context, string) (*models.Progress, error) {
	if f.progress == nil {
		return nil, models.ErrNotFound
	}
	return f.progress, nil
}

func (f *fakeService) InvalidateWalletCache(address string) {
	f.invalidated = append(f.invalidated, address)
}

func (f *fakeService) ClearAllCaches(namespace string) error {
	if namespace == "bogus" {
		return errors.New("unknown cache namespace")
	}
	f.cleared = append(f.cleared, namespace)
	return nil
}

func (f *fakeService) GetCacheStats() map[string]interface{} {
	return map[string]interface{}{"balance_entries": 1}
}

type stubChain struct{ err error }

func (s stubChain) BlockNumber(context.Context) (uint64, error) { return 42, s.err }

func newTestEngine(svc *fakeService, chainErr error) *gin.Engine {
	engine := gin.New()
	health := NewHealthHandler(services.NewHealthChecker(stubChain{err: chainErr}, nil, nil))
	router := NewRouter(svc, health, metrics.NewMetricsCollector())
	router.SetupRoutes(engine)
	router.SetupHealthRoutes(engine)
	router.SetupMetricsRoutes(engine)
	return engine
}

func perform(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) models.ErrorCode {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestWalletRoutes(t *testing.T) {
	t.Run("snapshot with query parameters", func(t *testing.T) {
		svc := &fakeService{snapshot: &models.WalletSnapshot{Address: wallet, Status: models.StatusOK, Tokens: []models.Token{}}}
		engine := newTestEngine(svc, nil)

		w := perform(engine, http.MethodGet, "/api/wallet/"+wallet+"?page=2&limit=10&refresh=true", "")

		assert.Equal(t, http.StatusOK, w.Code)
		require.Len(t, svc.snapCalls, 1)
		assert.Equal(t, snapshotCall{wallet, 2, 10, true}, svc.snapCalls[0])
	})

	t.Run("defaults", func(t *testing.T) {
		svc := &fakeService{snapshot: &models.WalletSnapshot{Status: models.StatusOK}}
		engine := newTestEngine(svc, nil)

		perform(engine, http.MethodGet, "/api/wallet/"+wallet, "")
		assert.Equal(t, snapshotCall{wallet, 1, -1, false}, svc.snapCalls[0])
	})

	t.Run("invalid address", func(t *testing.T) {
		engine := newTestEngine(&fakeService{}, nil)

		w := perform(engine, http.MethodGet, "/api/wallet/0x123", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, models.ErrorCodeInvalidWallet, errorCode(t, w))
	})

	t.Run("invalid limit", func(t *testing.T) {
		engine := newTestEngine(&fakeService{}, nil)

		w := perform(engine, http.MethodGet, "/api/wallet/"+wallet+"?limit=ten", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, models.ErrorCodeInvalidRequest, errorCode(t, w))
	})

	t.Run("error snapshot is a bad gateway with the snapshot body", func(t *testing.T) {
		svc := &fakeService{snapshot: models.EmptySnapshot(wallet, models.StatusError, "all providers failed")}
		engine := newTestEngine(svc, nil)

		w := perform(engine, http.MethodGet, "/api/wallet/"+wallet, "")
		assert.Equal(t, http.StatusBadGateway, w.Code)

		var snap models.WalletSnapshot
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
		assert.Equal(t, models.StatusError, snap.Status)
		assert.NotNil(t, snap.Tokens)
	})

	t.Run("transactions pass the cursor through", func(t *testing.T) {
		svc := &fakeService{history: &models.TransactionHistory{Status: models.StatusOK}}
		engine := newTestEngine(svc, nil)

		w := perform(engine, http.MethodGet, "/api/wallet/"+wallet+"/transactions?limit=5&cursor=scan:2", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"scan:2"}, svc.cursors)
	})

	t.Run("progress", func(t *testing.T) {
		svc := &fakeService{}
		engine := newTestEngine(svc, nil)

		w := perform(engine, http.MethodGet, "/api/wallet/"+wallet+"/progress", "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		svc.progress = &models.Progress{Status: models.ProgressFetchingPrices, CurrentBatch: 1, TotalBatches: 3}
		w = perform(engine, http.MethodGet, "/api/wallet/"+wallet+"/progress", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"totalBatches":3`)
	})
}

func TestPriceRoutes(t *testing.T) {
	t.Run("price found", func(t *testing.T) {
		svc := &fakeService{quote: &models.PriceQuote{TokenAddress: token, USDPrice: 0.00004}}
		w := perform(newTestEngine(svc, nil), http.MethodGet, "/api/price/"+token, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"usdPrice":0.00004`)
	})

	t.Run("price missing", func(t *testing.T) {
		w := perform(newTestEngine(&fakeService{}, nil), http.MethodGet, "/api/price/"+token, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, models.ErrorCodePriceNotFound, errorCode(t, w))
	})

	t.Run("invalid token", func(t *testing.T) {
		w := perform(newTestEngine(&fakeService{}, nil), http.MethodGet, "/api/price/pls", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, models.ErrorCodeInvalidToken, errorCode(t, w))
	})

	t.Run("batch", func(t *testing.T) {
		svc := &fakeService{quote: &models.PriceQuote{TokenAddress: token, USDPrice: 1}}
		w := perform(newTestEngine(svc, nil), http.MethodPost, "/api/prices", `{"tokens":["`+token+`"]}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{token}, svc.batchTokens)

		var resp BatchPriceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("batch validation", func(t *testing.T) {
		engine := newTestEngine(&fakeService{}, nil)

		w := perform(engine, http.MethodPost, "/api/prices", `{"tokens":[]}`)
		assert.Equal(t, models.ErrorCodeInvalidRequest, errorCode(t, w))

		w = perform(engine, http.MethodPost, "/api/prices", `{"tokens":["nope"]}`)
		assert.Equal(t, models.ErrorCodeInvalidToken, errorCode(t, w))

		w = perform(engine, http.MethodPost, "/api/prices", `{"tokens":`)
		assert.Equal(t, models.ErrorCodeMalformedJSON, errorCode(t, w))
	})
}

func TestCacheRoutes(t *testing.T) {
	svc := &fakeService{}
	engine := newTestEngine(svc, nil)

	w := perform(engine, http.MethodDelete, "/api/cache/wallet/"+wallet, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{wallet}, svc.invalidated)

	w = perform(engine, http.MethodDelete, "/api/cache?namespace=price", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = perform(engine, http.MethodDelete, "/api/cache", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"price", ""}, svc.cleared)

	w = perform(engine, http.MethodDelete, "/api/cache?namespace=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	engine := newTestEngine(&fakeService{}, nil)

	assert.Equal(t, http.StatusOK, perform(engine, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, perform(engine, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, perform(engine, http.MethodGet, "/health/ready", "").Code)

	w := perform(engine, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "balance_entries")

	w = perform(engine, http.MethodGet, "/metrics/prometheus", "")
	assert.Equal(t, http.StatusOK, w.Code)

	down := newTestEngine(&fakeService{}, errors.New("dial tcp: refused"))
	assert.Equal(t, http.StatusServiceUnavailable, perform(down, http.MethodGet, "/health/ready", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, perform(down, http.MethodGet, "/health", "").Code)
}
