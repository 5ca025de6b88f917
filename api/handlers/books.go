package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/pkg/models"
)

type createBookRequest struct {
	BaseAsset    string `json:"base_asset" binding:"required"`
	QuoteAsset   string `json:"quote_asset" binding:"required"`
	BaseKind     string `json:"base_kind"`
	QuoteKind    string `json:"quote_kind"`
	TickSize     string `json:"tick_size" binding:"required"`
	MinOrderSize string `json:"min_order_size" binding:"required"`
}

func assetKind(s string) models.AssetKind {
	if s == "native" {
		return models.AssetNative
	}
	return models.AssetToken
}

func (h *Handler) createBook(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req createBookRequest
	if !bindJSON(c, &req) {
		return
	}
	baseAsset, err := uuid.Parse(req.BaseAsset)
	if err != nil {
		errs.HandleError(c, errs.ErrInvalidAmount.Withf("invalid base asset id"))
		return
	}
	quoteAsset, err := uuid.Parse(req.QuoteAsset)
	if err != nil {
		errs.HandleError(c, errs.ErrInvalidAmount.Withf("invalid quote asset id"))
		return
	}
	tickSize, ok := parsePrice(c, "tick_size", req.TickSize)
	if !ok {
		return
	}
	minOrderSize, ok := parseAmount(c, "min_order_size", req.MinOrderSize)
	if !ok {
		return
	}
	book, err := h.books.CreateBook(id, baseAsset, quoteAsset,
		assetKind(req.BaseKind), assetKind(req.QuoteKind), tickSize, minOrderSize)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newBookView(book))
}

func (h *Handler) getBook(c *gin.Context) {
	bookID, ok := pathUUID(c, "book")
	if !ok {
		return
	}
	book, err := h.books.Book(bookID)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookView(book))
}

func (h *Handler) getDepth(c *gin.Context) {
	bookID, ok := pathUUID(c, "book")
	if !ok {
		return
	}
	top, err := h.books.Top(bookID)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"best_bid":   strconv.FormatUint(top.BestBid, 10),
		"best_ask":   strconv.FormatUint(top.BestAsk, 10),
		"bid_orders": top.BidOrders,
		"ask_orders": top.AskOrders,
	})
}

func (h *Handler) closeBook(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	bookID, ok := pathUUID(c, "book")
	if !ok {
		return
	}
	if err := h.books.CloseBook(bookID, id); err != nil {
		errs.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type placeOrderRequest struct {
	Side     string `json:"side" binding:"required"`
	Type     string `json:"type"`
	Price    string `json:"price" binding:"required"`
	Quantity string `json:"quantity" binding:"required"`
}

func orderType(c *gin.Context, s string) (models.OrderType, bool) {
	switch s {
	case "", "limit":
		return models.OrderTypeLimit, true
	case "post_only":
		return models.OrderTypePostOnly, true
	case "ioc":
		return models.OrderTypeImmediateOrCancel, true
	default:
		errs.HandleError(c, errs.ErrInvalidQuantity.Withf("unknown order type %q", s))
		return 0, false
	}
}

func (h *Handler) placeOrder(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	bookID, ok := pathUUID(c, "book")
	if !ok {
		return
	}
	var req placeOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	side, ok := parseSide(c, req.Side)
	if !ok {
		return
	}
	typ, ok := orderType(c, req.Type)
	if !ok {
		return
	}
	price, ok := parsePrice(c, "price", req.Price)
	if !ok {
		return
	}
	quantity, ok := parseAmount(c, "quantity", req.Quantity)
	if !ok {
		return
	}

	order, err := h.books.PlaceLimit(bookID, id, side, typ, price, quantity)
	if err != nil {
		errs.HandleError(c, err)
		return
	}

	// immediate-or-cancel: match right away, then drop whatever rests
	if typ == models.OrderTypeImmediateOrCancel {
		trades, crankErr := h.engine.Crank(bookID, models.MaxCrankIterations)
		if crankErr != nil && !errs.ErrSelfTrade.Is(crankErr) {
			errs.HandleError(c, crankErr)
			return
		}
		remainder, err := h.books.Order(bookID, order.ID)
		if err != nil {
			errs.HandleError(c, err)
			return
		}
		if remainder.Active {
			if _, err := h.books.CancelOrder(bookID, id, order.ID); err != nil {
				errs.HandleError(c, err)
				return
			}
			remainder, err = h.books.Order(bookID, order.ID)
			if err != nil {
				errs.HandleError(c, err)
				return
			}
		}
		c.JSON(http.StatusCreated, gin.H{
			"order":  newOrderView(remainder),
			"trades": newTradeViews(trades),
		})
		return
	}

	c.JSON(http.StatusCreated, newOrderView(order))
}

func pathOrderID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		errs.HandleError(c, errs.ErrOrderNotFound)
		return 0, false
	}
	return id, true
}

func (h *Handler) getOrder(c *gin.Context) {
	bookID, ok := pathUUID(c, "book")
	if !ok {
		return
	}
	orderID, ok := pathOrderID(c, "order")
	if !ok {
		return
	}
	order, err := h.books.Order(bookID, orderID)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderView(order))
}

type modifyOrderRequest struct {
	Price    *string `json:"price"`
	Quantity *string `json:"quantity"`
}

func (h *Handler) modifyOrder(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	bookID, ok := pathUUID(c, "book")
	if !ok {
		return
	}
	orderID, ok := pathOrderID(c, "order")
	if !ok {
		return
	}
	var req modifyOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	var price, quantity *uint64
	if req.Price != nil {
		v, ok := parsePrice(c, "price", *req.Price)
		if !ok {
			return
		}
		price = &v
	}
	if req.Quantity != nil {
		v, ok := parseAmount(c, "quantity", *req.Quantity)
		if !ok {
			return
		}
		quantity = &v
	}
	if err := h.books.ModifyOrder(bookID, id, orderID, price, quantity); err != nil {
		errs.HandleError(c, err)
		return
	}
	order, err := h.books.Order(bookID, orderID)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderView(order))
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	bookID, ok := pathUUID(c, "book")
	if !ok {
		return
	}
	orderID, ok := pathOrderID(c, "order")
	if !ok {
		return
	}
	refund, err := h.books.CancelOrder(bookID, id, orderID)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"refund": models.FromBaseUnits(refund).String(),
	})
}

type placeMarketOrderRequest struct {
	Side           string `json:"side" binding:"required"`
	Quantity       string `json:"quantity" binding:"required"`
	MaxQuoteAmount string `json:"max_quote_amount" binding:"required"`
}

func (h *Handler) placeMarketOrder(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	bookID, ok := pathUUID(c, "book")
	if !ok {
		return
	}
	var req placeMarketOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	side, ok := parseSide(c, req.Side)
	if !ok {
		return
	}
	quantity, ok := parseAmount(c, "quantity", req.Quantity)
	if !ok {
		return
	}
	maxQuote, ok := parseAmount(c, "max_quote_amount", req.MaxQuoteAmount)
	if !ok {
		return
	}
	trade, err := h.books.PlaceMarket(bookID, id, side, quantity, maxQuote)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTradeView(trade))
}

type crankRequest struct {
	MaxIterations uint32 `json:"max_iterations"`
}

func (h *Handler) crank(c *gin.Context) {
	bookID, ok := pathUUID(c, "book")
	if !ok {
		return
	}
	req := crankRequest{MaxIterations: models.MaxCrankIterations}
	if !bindOptionalJSON(c, &req) {
		return
	}
	if req.MaxIterations == 0 {
		req.MaxIterations = models.MaxCrankIterations
	}
	trades, err := h.engine.Crank(bookID, req.MaxIterations)
	if err != nil && !errs.ErrSelfTrade.Is(err) {
		errs.HandleError(c, err)
		return
	}
	resp := gin.H{"trades": newTradeViews(trades)}
	if err != nil {
		resp["stopped"] = "self_trade"
	}
	c.JSON(http.StatusOK, resp)
}

func pathTradeID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("trade"), 10, 64)
	if err != nil {
		errs.HandleError(c, errs.ErrTradeNotFound)
		return 0, false
	}
	return id, true
}

func (h *Handler) getTrade(c *gin.Context) {
	bookID, ok := pathUUID(c, "book")
	if !ok {
		return
	}
	tradeID, ok := pathTradeID(c)
	if !ok {
		return
	}
	trade, err := h.engine.Trade(bookID, tradeID)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTradeView(trade))
}

func (h *Handler) settleTrade(c *gin.Context) {
	bookID, ok := pathUUID(c, "book")
	if !ok {
		return
	}
	tradeID, ok := pathTradeID(c)
	if !ok {
		return
	}
	if err := h.engine.SettleTrade(bookID, tradeID); err != nil {
		errs.HandleError(c, err)
		return
	}
	trade, err := h.engine.Trade(bookID, tradeID)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTradeView(trade))
}
