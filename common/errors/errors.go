// Package errors defines the error taxonomy for the trading core. Every
// failure path maps to one distinguishable code; no operation returns a
// generic catch-all.
package errors

import "fmt"

// Kind groups error codes into the families the core distinguishes.
type Kind uint8

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindStateConflict
	KindArithmetic
	KindTemporal
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindStateConflict:
		return "state_conflict"
	case KindArithmetic:
		return "arithmetic"
	case KindTemporal:
		return "temporal"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every core operation.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches two *Error values by code, so sentinel comparison works through
// errors.Is even when a message was attached with Withf.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Withf returns a copy of e with additional detail appended to the message.
func (e *Error) Withf(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: fmt.Sprintf("%s: %s", e.Message, fmt.Sprintf(format, args...)),
	}
}

func def(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Validation errors, rejected before any state change.
var (
	ErrInvalidPrice         = def(KindValidation, "invalid_price", "invalid order price")
	ErrInvalidQuantity      = def(KindValidation, "invalid_quantity", "invalid order quantity")
	ErrQuantityBelowMinimum = def(KindValidation, "quantity_below_minimum", "order quantity below minimum order size")
	ErrPriceNotAligned      = def(KindValidation, "price_not_aligned", "price not aligned to tick size")
	ErrInvalidTickSize      = def(KindValidation, "invalid_tick_size", "tick size must be positive")
	ErrInvalidMinOrderSize  = def(KindValidation, "invalid_min_order_size", "minimum order size must be positive")
	ErrInvalidFeePercentage = def(KindValidation, "invalid_fee_percentage", "fee exceeds maximum basis points")
	ErrInvalidDepositAmount = def(KindValidation, "invalid_deposit_amount", "deposit amount must be positive")
	ErrInvalidDuration      = def(KindValidation, "invalid_duration", "escrow duration out of bounds")
	ErrInvalidAmount        = def(KindValidation, "invalid_amount", "amount does not fit the base-unit scale")
	ErrMaxQuoteExceeded     = def(KindValidation, "max_quote_amount_exceeded", "market order notional exceeds cap")
	ErrMarketOrderUnfilled  = def(KindValidation, "market_order_cannot_be_filled", "no reference price for market order")
)

// Authorization errors.
var (
	ErrUnauthorized      = def(KindAuthorization, "unauthorized", "caller is not authorized")
	ErrUnauthorizedOrder = def(KindAuthorization, "unauthorized_order_modification", "caller does not own the order")
)

// State-conflict errors.
var (
	ErrExchangePaused      = def(KindStateConflict, "exchange_paused", "exchange is currently paused")
	ErrExchangeNotReady    = def(KindStateConflict, "exchange_not_initialized", "exchange not initialized")
	ErrExchangeInitialized = def(KindStateConflict, "exchange_already_initialized", "exchange already initialized")
	ErrOrderBookInactive   = def(KindStateConflict, "order_book_inactive", "order book is not active")
	ErrOrderBookExists     = def(KindStateConflict, "order_book_exists", "order book already exists for the pair")
	ErrOrderBookNotEmpty   = def(KindStateConflict, "order_book_not_empty", "order book still has active orders")
	ErrOrderInactive       = def(KindStateConflict, "order_inactive", "order is not active")
	ErrOrderAlreadyFilled  = def(KindStateConflict, "order_already_filled", "order has fills and cannot be modified")
	ErrSelfTrade           = def(KindStateConflict, "self_trade_not_allowed", "self-trade not allowed")
	ErrPostOnlyWouldMatch  = def(KindStateConflict, "post_only_would_match", "post-only order would cross the book")
	ErrTradeAlreadySettled = def(KindStateConflict, "trade_already_settled", "trade already settled")
	ErrEscrowNotPending    = def(KindStateConflict, "escrow_not_pending", "escrow is not in pending status")
	ErrEscrowNotFunded     = def(KindStateConflict, "escrow_not_funded", "escrow is not fully funded")
	ErrEscrowExecuted      = def(KindStateConflict, "escrow_already_executed", "escrow already executed")
	ErrEscrowCancelled     = def(KindStateConflict, "escrow_already_cancelled", "escrow already cancelled")
	ErrEscrowExists        = def(KindStateConflict, "escrow_already_exists", "trade id already has an escrow")
	ErrAccountExists       = def(KindStateConflict, "trading_account_exists", "trading account already exists")
)

// Arithmetic errors.
var (
	ErrOverflow          = def(KindArithmetic, "overflow", "overflow in calculation")
	ErrInsufficientFunds = def(KindArithmetic, "insufficient_funds", "insufficient funds")
)

// Temporal errors.
var (
	ErrEscrowExpired    = def(KindTemporal, "escrow_expired", "escrow has expired")
	ErrEscrowNotExpired = def(KindTemporal, "escrow_not_expired", "escrow has not expired yet")
)

// Not-found errors.
var (
	ErrOrderNotFound   = def(KindNotFound, "order_not_found", "order not found")
	ErrBookNotFound    = def(KindNotFound, "order_book_not_found", "order book not found")
	ErrTradeNotFound   = def(KindNotFound, "trade_not_found", "trade not found")
	ErrEscrowNotFound  = def(KindNotFound, "escrow_not_found", "escrow not found")
	ErrAccountNotFound = def(KindNotFound, "trading_account_not_found", "trading account not found")
	ErrVaultNotFound   = def(KindNotFound, "vault_not_found", "vault not found")
)
