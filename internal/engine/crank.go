// Package engine drives matching and settlement over the order books. The
// crank is externally invoked with a bounded iteration count; nothing matches
// in the background.
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/internal/exchange"
	"github.com/openbourse/bourse/internal/orderbook"
	"github.com/openbourse/bourse/internal/store"
	"github.com/openbourse/bourse/internal/vault"
	"github.com/openbourse/bourse/pkg/metrics"
	"github.com/openbourse/bourse/pkg/models"
	"github.com/openbourse/bourse/pkg/safemath"
)

// Service matches crossed orders and settles the resulting trades.
type Service struct {
	mu       sync.Mutex
	logger   *zap.Logger
	exchange *exchange.Service
	books    *orderbook.Service
	vaults   *vault.Manager
	store    *store.Store
	trades   map[uuid.UUID]map[uint64]*models.Trade
	now      func() time.Time
}

// NewService creates the engine over the given books and custody manager.
func NewService(logger *zap.Logger, exch *exchange.Service, books *orderbook.Service, vaults *vault.Manager, st *store.Store) *Service {
	return &Service{
		logger:   logger,
		exchange: exch,
		books:    books,
		vaults:   vaults,
		store:    st,
		trades:   make(map[uuid.UUID]map[uint64]*models.Trade),
		now:      time.Now,
	}
}

func feeFor(notional uint64, bps uint16) (uint64, error) {
	fee, ok := safemath.MulDiv(notional, uint64(bps), models.BpsDenominator)
	if !ok {
		return 0, errs.ErrOverflow
	}
	return fee, nil
}

// maker picks the resting order of a crossed pair: the one that was already
// in the book when the other arrived.
func maker(bid, ask *models.Order) (*models.Order, *models.Order) {
	if bid.Timestamp < ask.Timestamp || (bid.Timestamp == ask.Timestamp && bid.ID < ask.ID) {
		return bid, ask
	}
	return ask, bid
}

// Crank advances matching on one book by up to maxIterations matches, hard
// capped at MaxCrankIterations. It returns the trades produced. A self-cross
// (best bid and best ask from the same trader) stops the loop and surfaces
// SelfTrade alongside the trades matched up to that point.
func (s *Service) Crank(bookID uuid.UUID, maxIterations uint32) ([]*models.Trade, error) {
	if err := s.exchange.EnsureActive(); err != nil {
		return nil, err
	}
	makerBps, takerBps, err := s.exchange.Fees()
	if err != nil {
		return nil, err
	}

	iterations := maxIterations
	if iterations > models.MaxCrankIterations {
		iterations = models.MaxCrankIterations
	}

	var trades []*models.Trade
	var fills []fill
	err = s.books.WithBook(bookID, func(b *orderbook.Book) error {
		rec := b.Record()
		if !rec.Active {
			return errs.ErrOrderBookInactive
		}
		// matches made before a mid-loop stop (self-cross) stay committed
		defer func() {
			if len(trades) == 0 {
				return
			}
			s.recordTrades(rec.ID, trades)
			for i := range fills {
				s.persistOrder(&fills[i].bid)
				s.persistOrder(&fills[i].ask)
			}
			for _, t := range trades {
				s.persistTrade(t)
			}
			if perr := s.books.PersistBook(rec); perr != nil {
				s.logger.Error("persisting book after crank", zap.Error(perr))
			}
		}()
		for i := uint32(0); i < iterations; i++ {
			bid, ask := b.BestBid(), b.BestAsk()
			if bid == nil || ask == nil || bid.Price < ask.Price {
				break
			}
			if bid.Trader == ask.Trader {
				return errs.ErrSelfTrade
			}

			mk, tk := maker(bid, ask)
			price := mk.Price
			qty := bid.Unfilled()
			if ask.Unfilled() < qty {
				qty = ask.Unfilled()
			}
			notional, ok := safemath.Mul(price, qty)
			if !ok {
				return errs.ErrOverflow
			}
			makerFee, err := feeFor(notional, makerBps)
			if err != nil {
				return err
			}
			takerFee, err := feeFor(notional, takerBps)
			if err != nil {
				return err
			}

			// the bid locked quote at its own limit price; if it matched
			// better, the difference comes back to the buyer now
			if bid.Price > price {
				excess, ok := safemath.Mul(bid.Price-price, qty)
				if !ok {
					return errs.ErrOverflow
				}
				if err := s.vaults.Release(rec.QuoteVault, rec.ID, excess, bid.Trader); err != nil {
					return err
				}
			}

			id, err := b.AllocateTradeID()
			if err != nil {
				return err
			}
			trade := &models.Trade{
				Book:         rec.ID,
				ID:           id,
				MakerOrderID: mk.ID,
				TakerOrderID: tk.ID,
				Maker:        mk.Trader,
				Taker:        tk.Trader,
				Price:        price,
				Quantity:     qty,
				MakerFee:     makerFee,
				TakerFee:     takerFee,
				Timestamp:    s.now().UnixNano(),
			}
			if err := b.ApplyFill(bid, qty); err != nil {
				return err
			}
			if err := b.ApplyFill(ask, qty); err != nil {
				return err
			}
			trades = append(trades, trade)
			fills = append(fills, fill{bid: *bid, ask: *ask})
		}
		return nil
	})

	metrics.CrankIterations.Observe(float64(len(trades)))
	for range trades {
		metrics.TradesMatched.Inc()
	}
	if len(trades) > 0 {
		s.logger.Info("crank matched",
			zap.String("book", bookID.String()),
			zap.Int("trades", len(trades)))
	}
	return trades, err
}

type fill struct {
	bid models.Order
	ask models.Order
}

func (s *Service) recordTrades(bookID uuid.UUID, trades []*models.Trade) {
	if len(trades) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.trades[bookID]
	if !ok {
		byID = make(map[uint64]*models.Trade)
		s.trades[bookID] = byID
	}
	// entries are copies: the cache never aliases a record a caller holds,
	// so updating a trade means replacing its entry, never writing through
	for _, t := range trades {
		cp := *t
		byID[t.ID] = &cp
	}
}

func (s *Service) trade(bookID uuid.UUID, tradeID uint64) (models.Trade, error) {
	s.mu.Lock()
	if byID, ok := s.trades[bookID]; ok {
		if t, ok := byID[tradeID]; ok {
			cp := *t
			s.mu.Unlock()
			return cp, nil
		}
	}
	s.mu.Unlock()

	if s.store != nil {
		t, found, err := s.store.GetTrade(bookID, tradeID)
		if err != nil {
			return models.Trade{}, err
		}
		if found {
			s.recordTrades(bookID, []*models.Trade{t})
			return *t, nil
		}
	}
	return models.Trade{}, errs.ErrTradeNotFound
}

// Trade returns a snapshot of one trade record.
func (s *Service) Trade(bookID uuid.UUID, tradeID uint64) (*models.Trade, error) {
	t, err := s.trade(bookID, tradeID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) persistTrade(t *models.Trade) {
	if s.store == nil {
		return
	}
	if err := s.store.PutTrade(t); err != nil {
		s.logger.Error("persisting trade", zap.Error(err))
	}
}

func (s *Service) persistOrder(o *models.Order) {
	if err := s.books.PersistOrder(o); err != nil {
		s.logger.Error("persisting filled order", zap.Error(err))
	}
}
