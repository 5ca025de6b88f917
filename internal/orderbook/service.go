package orderbook

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/internal/exchange"
	"github.com/openbourse/bourse/internal/store"
	"github.com/openbourse/bourse/internal/vault"
	"github.com/openbourse/bourse/pkg/metrics"
	"github.com/openbourse/bourse/pkg/models"
	"github.com/openbourse/bourse/pkg/safemath"
)

// Service owns the order books and implements placement, cancellation,
// modification, market orders, and book lifecycle. Matching is driven
// externally through WithBook.
type Service struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	exchange *exchange.Service
	vaults   *vault.Manager
	store    *store.Store
	books    map[uuid.UUID]*Book
	now      func() time.Time
}

// NewService creates the service and restores persisted books and orders.
func NewService(logger *zap.Logger, exch *exchange.Service, vaults *vault.Manager, st *store.Store) (*Service, error) {
	s := &Service{
		logger:   logger,
		exchange: exch,
		vaults:   vaults,
		store:    st,
		books:    make(map[uuid.UUID]*Book),
		now:      time.Now,
	}
	if st == nil {
		return s, nil
	}
	recs, err := st.ListOrderBooks()
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		b := newBook(rec)
		orders, err := st.ListOrders(rec.ID)
		if err != nil {
			return nil, err
		}
		for _, o := range orders {
			if o.Active {
				b.insert(o)
			} else {
				b.orders[o.ID] = o
			}
		}
		// vault records are derived state; recreate them so custody
		// operations resolve after a restart
		vaults.CreateVault(rec.ID, rec.BaseKind, rec.BaseAsset, "base")
		vaults.CreateVault(rec.ID, rec.QuoteKind, rec.QuoteAsset, "quote")
		s.books[rec.ID] = b
	}
	return s, nil
}

// CreateBook initializes an order book and its two vaults. Authority only.
func (s *Service) CreateBook(caller, baseAsset, quoteAsset uuid.UUID, baseKind, quoteKind models.AssetKind, tickSize, minOrderSize uint64) (*models.OrderBook, error) {
	if err := s.exchange.EnsureActive(); err != nil {
		return nil, err
	}
	authority, err := s.exchange.Authority()
	if err != nil {
		return nil, err
	}
	if caller != authority {
		return nil, errs.ErrUnauthorized
	}
	if tickSize < models.MinTickSize {
		return nil, errs.ErrInvalidTickSize
	}
	if minOrderSize < models.MinOrderSize {
		return nil, errs.ErrInvalidMinOrderSize
	}

	seed := make([]byte, 0, 34)
	seed = append(seed, baseAsset[:]...)
	seed = append(seed, quoteAsset[:]...)
	seed = append(seed, byte(baseKind), byte(quoteKind))
	id := uuid.NewSHA1(s.exchange.ID(), seed)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[id]; ok {
		return nil, errs.ErrOrderBookExists
	}

	rec := &models.OrderBook{
		ID:           id,
		Exchange:     s.exchange.ID(),
		BaseAsset:    baseAsset,
		QuoteAsset:   quoteAsset,
		BaseKind:     baseKind,
		QuoteKind:    quoteKind,
		BaseVault:    s.vaults.CreateVault(id, baseKind, baseAsset, "base"),
		QuoteVault:   s.vaults.CreateVault(id, quoteKind, quoteAsset, "quote"),
		TickSize:     tickSize,
		MinOrderSize: minOrderSize,
		Active:       true,
	}
	if err := s.persistBook(rec); err != nil {
		return nil, err
	}
	if err := s.exchange.MarketCreated(); err != nil {
		return nil, err
	}
	s.books[id] = newBook(rec)

	s.logger.Info("order book initialized",
		zap.String("book", id.String()),
		zap.Uint64("tick_size", tickSize),
		zap.Uint64("min_order_size", minOrderSize))
	cp := *rec
	return &cp, nil
}

func (s *Service) book(id uuid.UUID) (*Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	if !ok {
		return nil, errs.ErrBookNotFound
	}
	return b, nil
}

// WithBook runs fn while holding the book's lock. The matching engine and
// settlement use this to get the single-writer guarantee per record.
func (s *Service) WithBook(id uuid.UUID, fn func(b *Book) error) error {
	b, err := s.book(id)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(b)
}

// Book returns a snapshot of the book record.
func (s *Service) Book(id uuid.UUID) (*models.OrderBook, error) {
	var rec models.OrderBook
	err := s.WithBook(id, func(b *Book) error {
		rec = *b.rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// TopOfBook summarizes the live side indexes: best prices and the number of
// resting orders per side. Zero best price means the side is empty.
type TopOfBook struct {
	BestBid   uint64
	BestAsk   uint64
	BidOrders int
	AskOrders int
}

// Top returns the current top of book.
func (s *Service) Top(id uuid.UUID) (TopOfBook, error) {
	var top TopOfBook
	err := s.WithBook(id, func(b *Book) error {
		if o := b.BestBid(); o != nil {
			top.BestBid = o.Price
		}
		if o := b.BestAsk(); o != nil {
			top.BestAsk = o.Price
		}
		top.BidOrders = b.Depth(models.SideBid)
		top.AskOrders = b.Depth(models.SideAsk)
		return nil
	})
	return top, err
}

// Order returns a snapshot of one order.
func (s *Service) Order(bookID uuid.UUID, orderID uint64) (*models.Order, error) {
	var rec models.Order
	err := s.WithBook(bookID, func(b *Book) error {
		o, ok := b.Order(orderID)
		if !ok {
			return errs.ErrOrderNotFound
		}
		rec = *o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// lockAmount computes the value an order must lock: the base quantity for an
// ask, price×quantity of the quote asset for a bid.
func lockAmount(side models.Side, price, quantity uint64) (uint64, error) {
	if side == models.SideAsk {
		return quantity, nil
	}
	amount, ok := safemath.Mul(price, quantity)
	if !ok {
		return 0, errs.ErrOverflow
	}
	return amount, nil
}

func sideVault(rec *models.OrderBook, side models.Side) uuid.UUID {
	if side == models.SideAsk {
		return rec.BaseVault
	}
	return rec.QuoteVault
}

// PlaceLimit validates, locks the required asset, and links a resting order
// into the book. typ may be Limit, PostOnly or ImmediateOrCancel; market
// orders go through PlaceMarket.
func (s *Service) PlaceLimit(bookID, trader uuid.UUID, side models.Side, typ models.OrderType, price, quantity uint64) (*models.Order, error) {
	if typ == models.OrderTypeMarket {
		return nil, errs.ErrInvalidQuantity.Withf("market orders use PlaceMarket")
	}
	if err := s.exchange.EnsureActive(); err != nil {
		return nil, err
	}
	b, err := s.book(bookID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.rec
	if !rec.Active {
		return nil, errs.ErrOrderBookInactive
	}
	if quantity < rec.MinOrderSize {
		return nil, errs.ErrQuantityBelowMinimum
	}
	if price == 0 {
		return nil, errs.ErrInvalidPrice
	}
	if price%rec.TickSize != 0 {
		return nil, errs.ErrPriceNotAligned
	}
	if typ == models.OrderTypePostOnly {
		if side == models.SideBid {
			if ask := b.BestAsk(); ask != nil && price >= ask.Price {
				return nil, errs.ErrPostOnlyWouldMatch
			}
		} else {
			if bid := b.BestBid(); bid != nil && price <= bid.Price {
				return nil, errs.ErrPostOnlyWouldMatch
			}
		}
	}

	amount, err := lockAmount(side, price, quantity)
	if err != nil {
		return nil, err
	}
	nextID, ok := safemath.Add(rec.NextOrderID, 1)
	if !ok {
		return nil, errs.ErrOverflow
	}
	totalOrders, ok := safemath.Add(rec.TotalOrders, 1)
	if !ok {
		return nil, errs.ErrOverflow
	}

	if err := s.vaults.Lock(sideVault(rec, side), amount, trader); err != nil {
		return nil, err
	}

	order := &models.Order{
		Book:      rec.ID,
		Trader:    trader,
		ID:        rec.NextOrderID,
		Side:      side,
		Type:      typ,
		Price:     price,
		Quantity:  quantity,
		Timestamp: s.now().UnixNano(),
		Active:    true,
	}
	b.insert(order)
	rec.NextOrderID = nextID
	rec.TotalOrders = totalOrders

	if err := s.persistOrder(order); err != nil {
		s.logger.Error("persisting order", zap.Error(err))
	}
	if err := s.persistBook(rec); err != nil {
		s.logger.Error("persisting book after order", zap.Error(err))
	}
	metrics.OrdersPlaced.WithLabelValues(side.String()).Inc()
	s.logger.Info("limit order placed",
		zap.String("book", rec.ID.String()),
		zap.Uint64("order_id", order.ID),
		zap.String("side", side.String()),
		zap.Uint64("price", price),
		zap.Uint64("quantity", quantity))
	cp := *order
	return &cp, nil
}

// PlaceMarket executes an immediate two-leg transfer against the book's
// vaults at the last traded price, without creating a resting order.
func (s *Service) PlaceMarket(bookID, trader uuid.UUID, side models.Side, quantity, maxQuoteAmount uint64) (*models.Trade, error) {
	if err := s.exchange.EnsureActive(); err != nil {
		return nil, err
	}
	b, err := s.book(bookID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.rec
	if !rec.Active {
		return nil, errs.ErrOrderBookInactive
	}
	if quantity == 0 {
		return nil, errs.ErrInvalidQuantity
	}
	if rec.LastPrice == 0 {
		return nil, errs.ErrMarketOrderUnfilled
	}
	price := rec.LastPrice
	notional, ok := safemath.Mul(price, quantity)
	if !ok {
		return nil, errs.ErrOverflow
	}
	if notional > maxQuoteAmount {
		return nil, errs.ErrMaxQuoteExceeded
	}

	var moves []vault.Movement
	if side == models.SideBid {
		moves = []vault.Movement{
			{Vault: rec.QuoteVault, Party: trader, Amount: notional},
			{Vault: rec.BaseVault, Party: trader, Amount: quantity, Release: true},
		}
	} else {
		moves = []vault.Movement{
			{Vault: rec.BaseVault, Party: trader, Amount: quantity},
			{Vault: rec.QuoteVault, Party: trader, Amount: notional, Release: true},
		}
	}
	if err := s.vaults.Apply(rec.ID, moves); err != nil {
		return nil, err
	}
	if err := s.exchange.RecordFill(trader, quantity); err != nil {
		s.logger.Error("recording market fill", zap.Error(err))
	}

	s.logger.Info("market order executed",
		zap.String("book", rec.ID.String()),
		zap.String("side", side.String()),
		zap.Uint64("price", price),
		zap.Uint64("quantity", quantity))
	return &models.Trade{
		Book:      rec.ID,
		Taker:     trader,
		Price:     price,
		Quantity:  quantity,
		Timestamp: s.now().UnixNano(),
	}, nil
}

// CancelOrder refunds the unfilled remainder and deactivates the order. Only
// the owning trader may cancel.
func (s *Service) CancelOrder(bookID, trader uuid.UUID, orderID uint64) (uint64, error) {
	b, err := s.book(bookID)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.rec
	o, ok := b.Order(orderID)
	if !ok {
		return 0, errs.ErrOrderNotFound
	}
	if o.Trader != trader {
		return 0, errs.ErrUnauthorizedOrder
	}
	if !o.Active {
		return 0, errs.ErrOrderInactive
	}

	unfilled, ok := safemath.Sub(o.Quantity, o.Filled)
	if !ok {
		return 0, errs.ErrOverflow
	}
	refund, err := lockAmount(o.Side, o.Price, unfilled)
	if err != nil {
		return 0, err
	}
	totalOrders, ok := safemath.Sub(rec.TotalOrders, 1)
	if !ok {
		return 0, errs.ErrOverflow
	}

	if refund > 0 {
		if err := s.vaults.Release(sideVault(rec, o.Side), rec.ID, refund, trader); err != nil {
			return 0, err
		}
	}
	b.remove(o)
	o.Active = false
	rec.TotalOrders = totalOrders

	if err := s.persistOrder(o); err != nil {
		s.logger.Error("persisting cancelled order", zap.Error(err))
	}
	if err := s.persistBook(rec); err != nil {
		s.logger.Error("persisting book after cancel", zap.Error(err))
	}
	metrics.OrdersCancelled.Inc()
	s.logger.Info("order cancelled",
		zap.String("book", rec.ID.String()),
		zap.Uint64("order_id", orderID),
		zap.Uint64("refund", refund))
	return refund, nil
}

// ModifyOrder updates price and/or quantity of an unfilled active order and
// adjusts the locked amount to match. Partially filled orders reject with
// the already-filled error.
func (s *Service) ModifyOrder(bookID, trader uuid.UUID, orderID uint64, newPrice, newQuantity *uint64) error {
	b, err := s.book(bookID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.rec
	if !rec.Active {
		return errs.ErrOrderBookInactive
	}
	o, ok := b.Order(orderID)
	if !ok {
		return errs.ErrOrderNotFound
	}
	if o.Trader != trader {
		return errs.ErrUnauthorizedOrder
	}
	if !o.Active {
		return errs.ErrOrderInactive
	}
	if o.Filled != 0 {
		return errs.ErrOrderAlreadyFilled
	}

	price, quantity := o.Price, o.Quantity
	if newPrice != nil {
		if *newPrice == 0 {
			return errs.ErrInvalidPrice
		}
		if *newPrice%rec.TickSize != 0 {
			return errs.ErrPriceNotAligned
		}
		price = *newPrice
	}
	if newQuantity != nil {
		if *newQuantity < rec.MinOrderSize {
			return errs.ErrQuantityBelowMinimum
		}
		quantity = *newQuantity
	}

	oldLock, err := lockAmount(o.Side, o.Price, o.Quantity)
	if err != nil {
		return err
	}
	newLock, err := lockAmount(o.Side, price, quantity)
	if err != nil {
		return err
	}
	switch {
	case newLock > oldLock:
		if err := s.vaults.Lock(sideVault(rec, o.Side), newLock-oldLock, trader); err != nil {
			return err
		}
	case newLock < oldLock:
		if err := s.vaults.Release(sideVault(rec, o.Side), rec.ID, oldLock-newLock, trader); err != nil {
			return err
		}
	}

	// re-key the side index: modification resets time priority
	b.remove(o)
	o.Price = price
	o.Quantity = quantity
	o.Timestamp = s.now().UnixNano()
	b.insert(o)

	if err := s.persistOrder(o); err != nil {
		s.logger.Error("persisting modified order", zap.Error(err))
	}
	s.logger.Info("order modified",
		zap.String("book", rec.ID.String()),
		zap.Uint64("order_id", orderID),
		zap.Uint64("price", price),
		zap.Uint64("quantity", quantity))
	return nil
}

// CloseBook deactivates an empty book. Authority only.
func (s *Service) CloseBook(bookID, caller uuid.UUID) error {
	authority, err := s.exchange.Authority()
	if err != nil {
		return err
	}
	if caller != authority {
		return errs.ErrUnauthorized
	}
	return s.WithBook(bookID, func(b *Book) error {
		if b.rec.TotalOrders != 0 {
			return errs.ErrOrderBookNotEmpty
		}
		b.rec.Active = false
		if err := s.persistBook(b.rec); err != nil {
			b.rec.Active = true
			return err
		}
		s.logger.Info("order book closed", zap.String("book", bookID.String()))
		return nil
	})
}

// PersistOrder writes an order record through to the store. Exposed for the
// matching engine, which mutates orders under WithBook.
func (s *Service) PersistOrder(o *models.Order) error {
	return s.persistOrder(o)
}

// PersistBook writes a book record through to the store.
func (s *Service) PersistBook(rec *models.OrderBook) error {
	return s.persistBook(rec)
}

func (s *Service) persistOrder(o *models.Order) error {
	if s.store == nil {
		return nil
	}
	return s.store.PutOrder(o)
}

func (s *Service) persistBook(rec *models.OrderBook) error {
	if s.store == nil {
		return nil
	}
	return s.store.PutOrderBook(rec)
}
