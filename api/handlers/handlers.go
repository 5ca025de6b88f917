// Package handlers exposes the trading core over HTTP. Quantities and
// amounts cross the boundary as decimal strings and are converted to base
// units at the edge; prices are integers in quote base units per base base
// unit. Everything behind the handlers works in uint64 base units.
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/internal/engine"
	"github.com/openbourse/bourse/internal/escrow"
	"github.com/openbourse/bourse/internal/exchange"
	"github.com/openbourse/bourse/internal/orderbook"
	"github.com/openbourse/bourse/internal/vault"
	"github.com/openbourse/bourse/pkg/models"
)

// traderHeader carries the caller identity. There is no authentication layer
// in the core; the deployment fronts this service with one.
const traderHeader = "X-Trader-ID"

// Handler holds the service dependencies of the HTTP surface.
type Handler struct {
	logger   *zap.Logger
	exchange *exchange.Service
	books    *orderbook.Service
	engine   *engine.Service
	escrows  *escrow.Service
	vaults   *vault.Manager
}

// New creates the handler set.
func New(logger *zap.Logger, exch *exchange.Service, books *orderbook.Service, eng *engine.Service, esc *escrow.Service, vaults *vault.Manager) *Handler {
	return &Handler{
		logger:   logger,
		exchange: exch,
		books:    books,
		engine:   eng,
		escrows:  esc,
		vaults:   vaults,
	}
}

// Register wires all routes onto the router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/exchange", h.getExchange)
	rg.POST("/exchange/pause", h.pauseExchange)
	rg.POST("/exchange/resume", h.resumeExchange)

	rg.POST("/accounts", h.createAccount)
	rg.GET("/accounts/:id", h.getAccount)

	rg.POST("/funding", h.fund)

	rg.POST("/books", h.createBook)
	rg.GET("/books/:book", h.getBook)
	rg.GET("/books/:book/depth", h.getDepth)
	rg.POST("/books/:book/close", h.closeBook)
	rg.POST("/books/:book/orders", h.placeOrder)
	rg.GET("/books/:book/orders/:order", h.getOrder)
	rg.PATCH("/books/:book/orders/:order", h.modifyOrder)
	rg.DELETE("/books/:book/orders/:order", h.cancelOrder)
	rg.POST("/books/:book/market-orders", h.placeMarketOrder)
	rg.POST("/books/:book/crank", h.crank)
	rg.GET("/books/:book/trades/:trade", h.getTrade)
	rg.POST("/books/:book/trades/:trade/settle", h.settleTrade)

	rg.POST("/escrows", h.createEscrow)
	rg.GET("/escrows/:trade", h.getEscrow)
	rg.POST("/escrows/:trade/deposits", h.depositEscrow)
	rg.POST("/escrows/:trade/execute", h.executeEscrow)
	rg.POST("/escrows/:trade/cancel", h.cancelEscrow)
	rg.POST("/escrows/:trade/emergency-withdraw", h.emergencyWithdraw)
}

func caller(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader(traderHeader))
	if err != nil {
		errs.HandleError(c, errs.ErrUnauthorized.Withf("missing or invalid %s header", traderHeader))
		return uuid.Nil, false
	}
	return id, true
}

// parsePrice reads a price field. Prices are plain integers denominated in
// quote base units per base base unit, so price times a base-unit quantity
// is directly a quote base-unit notional.
func parsePrice(c *gin.Context, field, value string) (uint64, bool) {
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		errs.HandleError(c, errs.ErrInvalidPrice.Withf("%s must be an integer in quote base units", field))
		return 0, false
	}
	return v, true
}

func parseAmount(c *gin.Context, field, value string) (uint64, bool) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		errs.HandleError(c, errs.ErrInvalidAmount.Withf("%s: %v", field, err))
		return 0, false
	}
	v, err := models.ToBaseUnits(d)
	if err != nil {
		errs.HandleError(c, errs.ErrInvalidAmount.Withf("%s out of range", field))
		return 0, false
	}
	return v, true
}

func parseSide(c *gin.Context, value string) (models.Side, bool) {
	switch value {
	case "bid", "buy":
		return models.SideBid, true
	case "ask", "sell":
		return models.SideAsk, true
	default:
		errs.HandleError(c, errs.ErrInvalidQuantity.Withf("unknown side %q", value))
		return 0, false
	}
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		errs.HandleError(c, errs.ErrBookNotFound.Withf("invalid %s id", name))
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		errs.HandleError(c, errs.ErrInvalidAmount.Withf("invalid request body: %v", err))
		return false
	}
	return true
}

// bindOptionalJSON binds the body when one is present; an empty body leaves
// req at its zero value.
func bindOptionalJSON(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, req)
}

func vaultRef(holder uuid.UUID, kind models.AssetKind, asset uuid.UUID) vault.AccountRef {
	return vault.AccountRef{Holder: holder, Kind: kind, Asset: asset}
}
