// Package models holds the persisted record types of the trading core and
// their fixed-width binary layout.
package models

import (
	"github.com/google/uuid"
)

// Side is the side of an order.
type Side uint8

const (
	SideBid Side = iota // buy
	SideAsk             // sell
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// OrderType selects the placement discipline of an order.
type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeMarket
	OrderTypePostOnly
	OrderTypeImmediateOrCancel
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	case OrderTypePostOnly:
		return "post_only"
	case OrderTypeImmediateOrCancel:
		return "ioc"
	default:
		return "unknown"
	}
}

// AssetKind distinguishes the two custody primitives a leg can use: a
// fungible-token ledger transfer or a native-currency balance adjustment.
type AssetKind uint8

const (
	AssetToken AssetKind = iota
	AssetNative
)

// EscrowStatus is the escrow state machine state.
type EscrowStatus uint8

const (
	EscrowPending EscrowStatus = iota
	EscrowFunded
	EscrowExecuted
	EscrowCancelled
	EscrowExpired
)

func (s EscrowStatus) String() string {
	switch s {
	case EscrowPending:
		return "pending"
	case EscrowFunded:
		return "funded"
	case EscrowExecuted:
		return "executed"
	case EscrowCancelled:
		return "cancelled"
	case EscrowExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s EscrowStatus) Terminal() bool {
	return s == EscrowExecuted || s == EscrowCancelled || s == EscrowExpired
}

// Exchange is the singleton deployment configuration.
type Exchange struct {
	Authority    uuid.UUID
	FeeCollector uuid.UUID
	MakerFeeBps  uint16
	TakerFeeBps  uint16
	TotalMarkets uint64
	Paused       bool
}

// OrderBook is the per-trading-pair book record. Resting orders are indexed
// by (price, timestamp, id) per side; the index itself is in-memory state of
// the orderbook package, not part of the persisted record.
type OrderBook struct {
	ID           uuid.UUID
	Exchange     uuid.UUID
	BaseAsset    uuid.UUID
	QuoteAsset   uuid.UUID
	BaseKind     AssetKind
	QuoteKind    AssetKind
	BaseVault    uuid.UUID
	QuoteVault   uuid.UUID
	TickSize     uint64
	MinOrderSize uint64
	NextOrderID  uint64
	NextTradeID  uint64
	TotalOrders  uint64
	TotalVolume  uint64
	LastPrice    uint64
	Active       bool
}

// Order is a single resting order. Next/Prev are the book-traversal links in
// price-time order on the order's side; nil at the ends of the chain.
type Order struct {
	Book      uuid.UUID
	Trader    uuid.UUID
	ID        uint64
	Side      Side
	Type      OrderType
	Price     uint64
	Quantity  uint64
	Filled    uint64
	Timestamp int64
	Next      *uint64
	Prev      *uint64
	Active    bool
}

// Unfilled returns the quantity that has not yet matched.
func (o *Order) Unfilled() uint64 {
	return o.Quantity - o.Filled
}

// Trade is an immutable record of one match. Settled flips false→true exactly
// once.
type Trade struct {
	Book         uuid.UUID
	ID           uint64
	MakerOrderID uint64
	TakerOrderID uint64
	Maker        uuid.UUID
	Taker        uuid.UUID
	Price        uint64
	Quantity     uint64
	MakerFee     uint64
	TakerFee     uint64
	Timestamp    int64
	Settled      bool
}

// TradingAccount tracks per-user activity. Referrer is an optional reference,
// never ownership.
type TradingAccount struct {
	Owner       uuid.UUID
	Exchange    uuid.UUID
	TotalTrades uint64
	TotalVolume uint64
	FeeTier     uint8
	Referrer    *uuid.UUID
}

// Escrow is the bilateral trade record. Keyed by the caller-supplied TradeID.
type Escrow struct {
	TradeID        uint64
	Buyer          uuid.UUID
	Seller         uuid.UUID
	BaseAsset      uuid.UUID
	QuoteAsset     uuid.UUID
	BaseKind       AssetKind
	QuoteKind      AssetKind
	BaseAmount     uint64
	QuoteAmount    uint64
	BaseDeposited  uint64
	QuoteDeposited uint64
	BaseVault      uuid.UUID
	QuoteVault     uuid.UUID
	Status         EscrowStatus
	CreatedAt      int64
	Expiry         int64
}

// FullyFunded reports whether both legs meet their promised amount.
func (e *Escrow) FullyFunded() bool {
	return e.BaseDeposited >= e.BaseAmount && e.QuoteDeposited >= e.QuoteAmount
}

// Expired reports whether the deadline has passed at the given time.
func (e *Escrow) Expired(now int64) bool {
	return now > e.Expiry
}

// EscrowAuthority aggregates escrow activity for the deployment.
type EscrowAuthority struct {
	Authority    uuid.UUID
	TotalEscrows uint64
	TotalVolume  uint64
}
