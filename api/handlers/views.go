package handlers

import (
	"strconv"

	"github.com/openbourse/bourse/pkg/models"
)

// View types render base-unit fields back as decimal strings.

type exchangeView struct {
	Authority    string `json:"authority"`
	FeeCollector string `json:"fee_collector"`
	MakerFeeBps  uint16 `json:"maker_fee_bps"`
	TakerFeeBps  uint16 `json:"taker_fee_bps"`
	TotalMarkets uint64 `json:"total_markets"`
	Paused       bool   `json:"paused"`
}

type bookView struct {
	ID           string `json:"id"`
	BaseAsset    string `json:"base_asset"`
	QuoteAsset   string `json:"quote_asset"`
	TickSize     string `json:"tick_size"`
	MinOrderSize string `json:"min_order_size"`
	TotalOrders  uint64 `json:"total_orders"`
	TotalVolume  string `json:"total_volume"`
	LastPrice    string `json:"last_price"`
	Active       bool   `json:"active"`
}

func newBookView(b *models.OrderBook) bookView {
	return bookView{
		ID:           b.ID.String(),
		BaseAsset:    b.BaseAsset.String(),
		QuoteAsset:   b.QuoteAsset.String(),
		TickSize:     strconv.FormatUint(b.TickSize, 10),
		MinOrderSize: models.FromBaseUnits(b.MinOrderSize).String(),
		TotalOrders:  b.TotalOrders,
		TotalVolume:  models.FromBaseUnits(b.TotalVolume).String(),
		LastPrice:    strconv.FormatUint(b.LastPrice, 10),
		Active:       b.Active,
	}
}

type orderView struct {
	Book      string `json:"book"`
	ID        uint64 `json:"id"`
	Trader    string `json:"trader"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Filled    string `json:"filled"`
	Timestamp int64  `json:"timestamp"`
	Active    bool   `json:"active"`
}

func newOrderView(o *models.Order) orderView {
	return orderView{
		Book:      o.Book.String(),
		ID:        o.ID,
		Trader:    o.Trader.String(),
		Side:      o.Side.String(),
		Type:      o.Type.String(),
		Price:     strconv.FormatUint(o.Price, 10),
		Quantity:  models.FromBaseUnits(o.Quantity).String(),
		Filled:    models.FromBaseUnits(o.Filled).String(),
		Timestamp: o.Timestamp,
		Active:    o.Active,
	}
}

type tradeView struct {
	Book      string `json:"book"`
	ID        uint64 `json:"id"`
	Maker     string `json:"maker"`
	Taker     string `json:"taker"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	MakerFee  string `json:"maker_fee"`
	TakerFee  string `json:"taker_fee"`
	Timestamp int64  `json:"timestamp"`
	Settled   bool   `json:"settled"`
}

func newTradeView(t *models.Trade) tradeView {
	return tradeView{
		Book:      t.Book.String(),
		ID:        t.ID,
		Maker:     t.Maker.String(),
		Taker:     t.Taker.String(),
		Price:     strconv.FormatUint(t.Price, 10),
		Quantity:  models.FromBaseUnits(t.Quantity).String(),
		MakerFee:  models.FromBaseUnits(t.MakerFee).String(),
		TakerFee:  models.FromBaseUnits(t.TakerFee).String(),
		Timestamp: t.Timestamp,
		Settled:   t.Settled,
	}
}

func newTradeViews(ts []*models.Trade) []tradeView {
	views := make([]tradeView, 0, len(ts))
	for _, t := range ts {
		views = append(views, newTradeView(t))
	}
	return views
}

type accountView struct {
	Owner       string  `json:"owner"`
	TotalTrades uint64  `json:"total_trades"`
	TotalVolume string  `json:"total_volume"`
	FeeTier     uint8   `json:"fee_tier"`
	Referrer    *string `json:"referrer,omitempty"`
}

func newAccountView(a *models.TradingAccount) accountView {
	v := accountView{
		Owner:       a.Owner.String(),
		TotalTrades: a.TotalTrades,
		TotalVolume: models.FromBaseUnits(a.TotalVolume).String(),
		FeeTier:     a.FeeTier,
	}
	if a.Referrer != nil {
		ref := a.Referrer.String()
		v.Referrer = &ref
	}
	return v
}

type escrowView struct {
	TradeID        uint64 `json:"trade_id"`
	Buyer          string `json:"buyer"`
	Seller         string `json:"seller"`
	BaseAmount     string `json:"base_amount"`
	QuoteAmount    string `json:"quote_amount"`
	BaseDeposited  string `json:"base_deposited"`
	QuoteDeposited string `json:"quote_deposited"`
	Status         string `json:"status"`
	CreatedAt      int64  `json:"created_at"`
	Expiry         int64  `json:"expiry"`
}

func newEscrowView(e *models.Escrow) escrowView {
	return escrowView{
		TradeID:        e.TradeID,
		Buyer:          e.Buyer.String(),
		Seller:         e.Seller.String(),
		BaseAmount:     models.FromBaseUnits(e.BaseAmount).String(),
		QuoteAmount:    models.FromBaseUnits(e.QuoteAmount).String(),
		BaseDeposited:  models.FromBaseUnits(e.BaseDeposited).String(),
		QuoteDeposited: models.FromBaseUnits(e.QuoteDeposited).String(),
		Status:         e.Status.String(),
		CreatedAt:      e.CreatedAt,
		Expiry:         e.Expiry,
	}
}
