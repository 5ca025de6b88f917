package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/internal/engine"
	"github.com/openbourse/bourse/internal/escrow"
	"github.com/openbourse/bourse/internal/exchange"
	"github.com/openbourse/bourse/internal/orderbook"
	"github.com/openbourse/bourse/internal/store"
	"github.com/openbourse/bourse/internal/vault"
)

type apiEnv struct {
	router    *gin.Engine
	authority uuid.UUID
	vaults    *vault.Manager
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	st, err := store.Open("", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	exch, err := exchange.NewService(logger, st)
	require.NoError(t, err)
	authority := uuid.New()
	require.NoError(t, exch.Initialize(authority, uuid.New(), 10, 20))

	vaults := vault.NewManager(logger)
	books, err := orderbook.NewService(logger, exch, vaults, st)
	require.NoError(t, err)
	eng := engine.NewService(logger, exch, books, vaults, st)
	esc, err := escrow.NewService(logger, vaults, st, authority)
	require.NoError(t, err)

	router := gin.New()
	router.Use(errs.Middleware())
	New(logger, exch, books, eng, esc, vaults).Register(router.Group("/api/v1"))

	return &apiEnv{router: router, authority: authority, vaults: vaults}
}

func (e *apiEnv) do(t *testing.T, method, path string, as uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != uuid.Nil {
		req.Header.Set(traderHeader, as.String())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func (e *apiEnv) createBook(t *testing.T) (string, string, string) {
	t.Helper()
	baseAsset := uuid.New().String()
	quoteAsset := uuid.New().String()
	w := e.do(t, http.MethodPost, "/api/v1/books", e.authority, gin.H{
		"base_asset":     baseAsset,
		"quote_asset":    quoteAsset,
		"tick_size":      "100",
		"min_order_size": "0.000001",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var book bookView
	decode(t, w, &book)
	return book.ID, baseAsset, quoteAsset
}

func (e *apiEnv) fund(t *testing.T, trader uuid.UUID, asset, amount string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/funding", trader, gin.H{
		"asset":  asset,
		"amount": amount,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	bookID, baseAsset, quoteAsset := env.createBook(t)
	seller := uuid.New()
	buyer := uuid.New()
	env.fund(t, seller, baseAsset, "100")
	env.fund(t, buyer, quoteAsset, "10000")

	ordersPath := fmt.Sprintf("/api/v1/books/%s/orders", bookID)

	w := env.do(t, http.MethodPost, ordersPath, seller, gin.H{
		"side": "ask", "price": "2500", "quantity": "4",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ask orderView
	decode(t, w, &ask)
	assert.Equal(t, "ask", ask.Side)
	assert.Equal(t, "2500", ask.Price)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/books/%s/depth", bookID), uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var depth struct {
		BestAsk   string `json:"best_ask"`
		AskOrders int    `json:"ask_orders"`
		BidOrders int    `json:"bid_orders"`
	}
	decode(t, w, &depth)
	assert.Equal(t, "2500", depth.BestAsk)
	assert.Equal(t, 1, depth.AskOrders)
	assert.Equal(t, 0, depth.BidOrders)

	w = env.do(t, http.MethodPost, ordersPath, buyer, gin.H{
		"side": "bid", "price": "2500", "quantity": "4",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/books/%s/crank", bookID), buyer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var crankResp struct {
		Trades []tradeView `json:"trades"`
	}
	decode(t, w, &crankResp)
	require.Len(t, crankResp.Trades, 1)
	trade := crankResp.Trades[0]
	assert.Equal(t, "2500", trade.Price)
	assert.Equal(t, "4", trade.Quantity)
	assert.False(t, trade.Settled)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/books/%s/trades/%d/settle", bookID, trade.ID), buyer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var settled tradeView
	decode(t, w, &settled)
	assert.True(t, settled.Settled)

	t.Run("double settle is a conflict", func(t *testing.T) {
		w := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/books/%s/trades/%d/settle", bookID, trade.ID), buyer, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		var pd errs.ProblemDetails
		decode(t, w, &pd)
		assert.Equal(t, "trade_already_settled", pd.Code)
	})

	t.Run("book reflects the fill", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/books/"+bookID, uuid.Nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var book bookView
		decode(t, w, &book)
		assert.Equal(t, "2500", book.LastPrice)
		assert.Equal(t, "4", book.TotalVolume)
		assert.Equal(t, uint64(0), book.TotalOrders)
	})
}

func TestValidationOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	bookID, baseAsset, _ := env.createBook(t)
	trader := uuid.New()
	env.fund(t, trader, baseAsset, "100")

	ordersPath := fmt.Sprintf("/api/v1/books/%s/orders", bookID)

	t.Run("misaligned price", func(t *testing.T) {
		w := env.do(t, http.MethodPost, ordersPath, trader, gin.H{
			"side": "ask", "price": "150", "quantity": "1",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var pd errs.ProblemDetails
		decode(t, w, &pd)
		assert.Equal(t, "price_not_aligned", pd.Code)
		assert.Contains(t, pd.Type, pd.Code)
	})

	t.Run("missing identity header", func(t *testing.T) {
		w := env.do(t, http.MethodPost, ordersPath, uuid.Nil, gin.H{
			"side": "ask", "price": "100", "quantity": "1",
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown book", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/books/"+uuid.New().String(), uuid.Nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("insufficient funds maps to 422", func(t *testing.T) {
		w := env.do(t, http.MethodPost, ordersPath, trader, gin.H{
			"side": "ask", "price": "100", "quantity": "5000",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestImmediateOrCancelOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	bookID, baseAsset, quoteAsset := env.createBook(t)
	seller := uuid.New()
	buyer := uuid.New()
	env.fund(t, seller, baseAsset, "100")
	env.fund(t, buyer, quoteAsset, "10000")

	ordersPath := fmt.Sprintf("/api/v1/books/%s/orders", bookID)
	w := env.do(t, http.MethodPost, ordersPath, seller, gin.H{
		"side": "ask", "price": "200", "quantity": "3",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// ioc for 10: fills 3, never rests the remaining 7
	w = env.do(t, http.MethodPost, ordersPath, buyer, gin.H{
		"side": "bid", "type": "ioc", "price": "200", "quantity": "10",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Order  orderView   `json:"order"`
		Trades []tradeView `json:"trades"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, "3", resp.Trades[0].Quantity)
	assert.False(t, resp.Order.Active)
	assert.Equal(t, "3", resp.Order.Filled)

	t.Run("book is empty afterwards", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/books/"+bookID, uuid.Nil, nil)
		var book bookView
		decode(t, w, &book)
		assert.Equal(t, uint64(0), book.TotalOrders)
	})
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	buyer := uuid.New()
	seller := uuid.New()
	baseAsset := uuid.New().String()
	quoteAsset := uuid.New().String()
	env.fund(t, seller, baseAsset, "100")
	env.fund(t, buyer, quoteAsset, "50")

	w := env.do(t, http.MethodPost, "/api/v1/escrows", buyer, gin.H{
		"trade_id":     7,
		"buyer":        buyer.String(),
		"seller":       seller.String(),
		"base_asset":   baseAsset,
		"quote_asset":  quoteAsset,
		"base_amount":  "100",
		"quote_amount": "50",
		"expiry":       time.Now().Add(time.Hour).Unix(),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rec escrowView
	decode(t, w, &rec)
	assert.Equal(t, "pending", rec.Status)

	w = env.do(t, http.MethodPost, "/api/v1/escrows/7/deposits", seller, gin.H{
		"leg": "base", "amount": "100",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/v1/escrows/7/deposits", buyer, gin.H{
		"leg": "quote", "amount": "50",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &rec)
	assert.Equal(t, "funded", rec.Status)

	w = env.do(t, http.MethodPost, "/api/v1/escrows/7/execute", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &rec)
	assert.Equal(t, "executed", rec.Status)

	t.Run("second execute is a conflict", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/escrows/7/execute", buyer, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestPauseResumeOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	bookID, baseAsset, _ := env.createBook(t)
	trader := uuid.New()
	env.fund(t, trader, baseAsset, "10")

	w := env.do(t, http.MethodPost, "/api/v1/exchange/pause", trader, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "only the authority may pause")

	w = env.do(t, http.MethodPost, "/api/v1/exchange/pause", env.authority, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/books/%s/orders", bookID), trader, gin.H{
		"side": "ask", "price": "100", "quantity": "1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/exchange/resume", env.authority, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/books/%s/orders", bookID), trader, gin.H{
		"side": "ask", "price": "100", "quantity": "1",
	})
	assert.Equal(t, http.StatusCreated, w.Code)
}
