// Package orderbook implements the per-trading-pair order book: price-time
// priority indexes per side, order lifecycle, and the custody interactions of
// placement, cancellation and modification.
//
// The in-memory state is authoritative; the store is a write-through copy
// used to rebuild it on startup. A failed store write is logged and the
// operation still succeeds, and the next write of the same record closes the
// gap. Custody never depends on the store.
package orderbook

import (
	"sync"

	"github.com/tidwall/btree"

	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/pkg/models"
	"github.com/openbourse/bourse/pkg/safemath"
)

// Book is the in-memory state of one order book: the persisted record plus
// the order set and the two ordered sides. Orders stay in the map after
// deactivation; only active orders live in the side indexes.
//
// A Book is single-writer: every method below must run under the book's lock,
// which Service acquires for its own operations and exposes to the matching
// engine through WithBook.
type Book struct {
	mu     sync.Mutex
	rec    *models.OrderBook
	orders map[uint64]*models.Order
	bids   *btree.BTreeG[*models.Order]
	asks   *btree.BTreeG[*models.Order]
}

// bidLess sorts best bid first: highest price, then earliest time, then
// lowest id.
func bidLess(a, b *models.Order) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.ID < b.ID
}

// askLess sorts best ask first: lowest price, then earliest time, then
// lowest id.
func askLess(a, b *models.Order) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.ID < b.ID
}

func newBook(rec *models.OrderBook) *Book {
	return &Book{
		rec:    rec,
		orders: make(map[uint64]*models.Order),
		bids:   btree.NewBTreeG[*models.Order](bidLess),
		asks:   btree.NewBTreeG[*models.Order](askLess),
	}
}

func (b *Book) side(s models.Side) *btree.BTreeG[*models.Order] {
	if s == models.SideBid {
		return b.bids
	}
	return b.asks
}

// Record returns the book record. Mutations go through Service or the
// matching engine under WithBook.
func (b *Book) Record() *models.OrderBook { return b.rec }

// Order returns the order with the given id, active or not.
func (b *Book) Order(id uint64) (*models.Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// BestBid returns the highest-priority active bid, or nil.
func (b *Book) BestBid() *models.Order {
	if o, ok := b.bids.Min(); ok {
		return o
	}
	return nil
}

// BestAsk returns the highest-priority active ask, or nil.
func (b *Book) BestAsk() *models.Order {
	if o, ok := b.asks.Min(); ok {
		return o
	}
	return nil
}

// Depth returns the number of active orders on a side.
func (b *Book) Depth(s models.Side) int {
	return b.side(s).Len()
}

func idPtr(v uint64) *uint64 {
	p := new(uint64)
	*p = v
	return p
}

// insert adds an order to its side index and stitches the traversal links of
// the order and its new neighbors.
func (b *Book) insert(o *models.Order) {
	b.orders[o.ID] = o
	tree := b.side(o.Side)
	tree.Set(o)

	var prev, next *models.Order
	tree.Descend(o, func(it *models.Order) bool {
		if it.ID == o.ID {
			return true
		}
		prev = it
		return false
	})
	tree.Ascend(o, func(it *models.Order) bool {
		if it.ID == o.ID {
			return true
		}
		next = it
		return false
	})

	o.Prev, o.Next = nil, nil
	if prev != nil {
		o.Prev = idPtr(prev.ID)
		prev.Next = idPtr(o.ID)
	}
	if next != nil {
		o.Next = idPtr(next.ID)
		next.Prev = idPtr(o.ID)
	}
}

// remove takes an order out of its side index and reconnects its neighbors.
// The order itself stays in the map.
func (b *Book) remove(o *models.Order) {
	b.side(o.Side).Delete(o)

	var prev, next *models.Order
	if o.Prev != nil {
		prev = b.orders[*o.Prev]
	}
	if o.Next != nil {
		next = b.orders[*o.Next]
	}
	if prev != nil {
		prev.Next = nil
		if next != nil {
			prev.Next = idPtr(next.ID)
		}
	}
	if next != nil {
		next.Prev = nil
		if prev != nil {
			next.Prev = idPtr(prev.ID)
		}
	}
	o.Prev, o.Next = nil, nil
}

// ApplyFill increments an order's filled quantity by qty. A fully filled
// order is deactivated and removed from its side index, and the active order
// count drops. qty must not exceed the unfilled quantity.
func (b *Book) ApplyFill(o *models.Order, qty uint64) error {
	filled, ok := safemath.Add(o.Filled, qty)
	if !ok || filled > o.Quantity {
		return errs.ErrOverflow
	}
	o.Filled = filled
	if o.Filled == o.Quantity {
		b.remove(o)
		o.Active = false
		total, ok := safemath.Sub(b.rec.TotalOrders, 1)
		if !ok {
			return errs.ErrOverflow
		}
		b.rec.TotalOrders = total
	}
	return nil
}

// AllocateTradeID returns the next trade id and advances the counter.
func (b *Book) AllocateTradeID() (uint64, error) {
	id := b.rec.NextTradeID
	next, ok := safemath.Add(id, 1)
	if !ok {
		return 0, errs.ErrOverflow
	}
	b.rec.NextTradeID = next
	return id, nil
}
