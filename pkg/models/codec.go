package models

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Fixed-width binary layout: u64/i64 big-endian 8 bytes, u16 2 bytes, enums
// and bools one byte, identities 16 raw uuid bytes, optional fields a
// presence byte followed by the value. Round-trip is exact.

type writer struct{ buf []byte }

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *writer) i64(v int64)  { w.u64(uint64(v)) }
func (w *writer) id(v uuid.UUID) {
	w.buf = append(w.buf, v[:]...)
}
func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}
func (w *writer) optU64(v *uint64) {
	if v == nil {
		w.u8(0)
		w.u64(0)
		return
	}
	w.u8(1)
	w.u64(*v)
}
func (w *writer) optID(v *uuid.UUID) {
	if v == nil {
		w.u8(0)
		w.id(uuid.UUID{})
		return
	}
	w.u8(1)
	w.id(*v)
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("record truncated at offset %d", r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) id() uuid.UUID {
	b := r.take(16)
	if b == nil {
		return uuid.UUID{}
	}
	var v uuid.UUID
	copy(v[:], b)
	return v
}

func (r *reader) boolean() bool { return r.u8() == 1 }

func (r *reader) optU64() *uint64 {
	present := r.u8()
	v := r.u64()
	if present == 0 {
		return nil
	}
	return &v
}

func (r *reader) optID() *uuid.UUID {
	present := r.u8()
	v := r.id()
	if present == 0 {
		return nil
	}
	return &v
}

func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("record has %d trailing bytes", len(r.buf)-r.off)
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (e *Exchange) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.id(e.Authority)
	w.id(e.FeeCollector)
	w.u16(e.MakerFeeBps)
	w.u16(e.TakerFeeBps)
	w.u64(e.TotalMarkets)
	w.boolean(e.Paused)
	return w.buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (e *Exchange) UnmarshalBinary(data []byte) error {
	r := &reader{buf: data}
	e.Authority = r.id()
	e.FeeCollector = r.id()
	e.MakerFeeBps = r.u16()
	e.TakerFeeBps = r.u16()
	e.TotalMarkets = r.u64()
	e.Paused = r.boolean()
	return r.done()
}

func (b *OrderBook) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.id(b.ID)
	w.id(b.Exchange)
	w.id(b.BaseAsset)
	w.id(b.QuoteAsset)
	w.u8(uint8(b.BaseKind))
	w.u8(uint8(b.QuoteKind))
	w.id(b.BaseVault)
	w.id(b.QuoteVault)
	w.u64(b.TickSize)
	w.u64(b.MinOrderSize)
	w.u64(b.NextOrderID)
	w.u64(b.NextTradeID)
	w.u64(b.TotalOrders)
	w.u64(b.TotalVolume)
	w.u64(b.LastPrice)
	w.boolean(b.Active)
	return w.buf, nil
}

func (b *OrderBook) UnmarshalBinary(data []byte) error {
	r := &reader{buf: data}
	b.ID = r.id()
	b.Exchange = r.id()
	b.BaseAsset = r.id()
	b.QuoteAsset = r.id()
	b.BaseKind = AssetKind(r.u8())
	b.QuoteKind = AssetKind(r.u8())
	b.BaseVault = r.id()
	b.QuoteVault = r.id()
	b.TickSize = r.u64()
	b.MinOrderSize = r.u64()
	b.NextOrderID = r.u64()
	b.NextTradeID = r.u64()
	b.TotalOrders = r.u64()
	b.TotalVolume = r.u64()
	b.LastPrice = r.u64()
	b.Active = r.boolean()
	return r.done()
}

func (o *Order) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.id(o.Book)
	w.id(o.Trader)
	w.u64(o.ID)
	w.u8(uint8(o.Side))
	w.u8(uint8(o.Type))
	w.u64(o.Price)
	w.u64(o.Quantity)
	w.u64(o.Filled)
	w.i64(o.Timestamp)
	w.optU64(o.Next)
	w.optU64(o.Prev)
	w.boolean(o.Active)
	return w.buf, nil
}

func (o *Order) UnmarshalBinary(data []byte) error {
	r := &reader{buf: data}
	o.Book = r.id()
	o.Trader = r.id()
	o.ID = r.u64()
	o.Side = Side(r.u8())
	o.Type = OrderType(r.u8())
	o.Price = r.u64()
	o.Quantity = r.u64()
	o.Filled = r.u64()
	o.Timestamp = r.i64()
	o.Next = r.optU64()
	o.Prev = r.optU64()
	o.Active = r.boolean()
	return r.done()
}

func (t *Trade) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.id(t.Book)
	w.u64(t.ID)
	w.u64(t.MakerOrderID)
	w.u64(t.TakerOrderID)
	w.id(t.Maker)
	w.id(t.Taker)
	w.u64(t.Price)
	w.u64(t.Quantity)
	w.u64(t.MakerFee)
	w.u64(t.TakerFee)
	w.i64(t.Timestamp)
	w.boolean(t.Settled)
	return w.buf, nil
}

func (t *Trade) UnmarshalBinary(data []byte) error {
	r := &reader{buf: data}
	t.Book = r.id()
	t.ID = r.u64()
	t.MakerOrderID = r.u64()
	t.TakerOrderID = r.u64()
	t.Maker = r.id()
	t.Taker = r.id()
	t.Price = r.u64()
	t.Quantity = r.u64()
	t.MakerFee = r.u64()
	t.TakerFee = r.u64()
	t.Timestamp = r.i64()
	t.Settled = r.boolean()
	return r.done()
}

func (a *TradingAccount) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.id(a.Owner)
	w.id(a.Exchange)
	w.u64(a.TotalTrades)
	w.u64(a.TotalVolume)
	w.u8(a.FeeTier)
	w.optID(a.Referrer)
	return w.buf, nil
}

func (a *TradingAccount) UnmarshalBinary(data []byte) error {
	r := &reader{buf: data}
	a.Owner = r.id()
	a.Exchange = r.id()
	a.TotalTrades = r.u64()
	a.TotalVolume = r.u64()
	a.FeeTier = r.u8()
	a.Referrer = r.optID()
	return r.done()
}

func (e *Escrow) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.u64(e.TradeID)
	w.id(e.Buyer)
	w.id(e.Seller)
	w.id(e.BaseAsset)
	w.id(e.QuoteAsset)
	w.u8(uint8(e.BaseKind))
	w.u8(uint8(e.QuoteKind))
	w.u64(e.BaseAmount)
	w.u64(e.QuoteAmount)
	w.u64(e.BaseDeposited)
	w.u64(e.QuoteDeposited)
	w.id(e.BaseVault)
	w.id(e.QuoteVault)
	w.u8(uint8(e.Status))
	w.i64(e.CreatedAt)
	w.i64(e.Expiry)
	return w.buf, nil
}

func (e *Escrow) UnmarshalBinary(data []byte) error {
	r := &reader{buf: data}
	e.TradeID = r.u64()
	e.Buyer = r.id()
	e.Seller = r.id()
	e.BaseAsset = r.id()
	e.QuoteAsset = r.id()
	e.BaseKind = AssetKind(r.u8())
	e.QuoteKind = AssetKind(r.u8())
	e.BaseAmount = r.u64()
	e.QuoteAmount = r.u64()
	e.BaseDeposited = r.u64()
	e.QuoteDeposited = r.u64()
	e.BaseVault = r.id()
	e.QuoteVault = r.id()
	e.Status = EscrowStatus(r.u8())
	e.CreatedAt = r.i64()
	e.Expiry = r.i64()
	return r.done()
}

func (a *EscrowAuthority) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.id(a.Authority)
	w.u64(a.TotalEscrows)
	w.u64(a.TotalVolume)
	return w.buf, nil
}

func (a *EscrowAuthority) UnmarshalBinary(data []byte) error {
	r := &reader{buf: data}
	a.Authority = r.id()
	a.TotalEscrows = r.u64()
	a.TotalVolume = r.u64()
	return r.done()
}
