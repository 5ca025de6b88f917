package engine

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/internal/orderbook"
	"github.com/openbourse/bourse/internal/vault"
	"github.com/openbourse/bourse/pkg/metrics"
	"github.com/openbourse/bourse/pkg/models"
	"github.com/openbourse/bourse/pkg/safemath"
)

// SettleTrade releases the matched custody: the base quantity to the buyer,
// the notional net of both fees to the seller, and the fees to the exchange
// fee collector. The settled flag flips exactly once; a second call fails
// with TradeAlreadySettled and moves nothing. All three legs commit
// atomically.
func (s *Service) SettleTrade(bookID uuid.UUID, tradeID uint64) error {
	if err := s.exchange.EnsureActive(); err != nil {
		return err
	}
	feeCollector, err := s.exchange.FeeCollector()
	if err != nil {
		return err
	}
	return s.books.WithBook(bookID, func(b *orderbook.Book) error {
		rec := b.Record()
		// fetched under the book lock so concurrent settles serialize on a
		// current view of the settled flag
		trade, err := s.trade(bookID, tradeID)
		if err != nil {
			return err
		}
		if trade.Settled {
			return errs.ErrTradeAlreadySettled
		}

		makerOrder, ok := b.Order(trade.MakerOrderID)
		if !ok {
			return errs.ErrOrderNotFound
		}
		buyer, seller := trade.Taker, trade.Maker
		if makerOrder.Side == models.SideBid {
			buyer, seller = trade.Maker, trade.Taker
		}

		notional, mulOK := safemath.Mul(trade.Price, trade.Quantity)
		if !mulOK {
			return errs.ErrOverflow
		}
		fees, addOK := safemath.Add(trade.MakerFee, trade.TakerFee)
		if !addOK {
			return errs.ErrOverflow
		}
		sellerProceeds, subOK := safemath.Sub(notional, fees)
		if !subOK {
			return errs.ErrInsufficientFunds
		}
		volume, addOK := safemath.Add(rec.TotalVolume, trade.Quantity)
		if !addOK {
			return errs.ErrOverflow
		}

		moves := []vault.Movement{
			{Vault: rec.BaseVault, Party: buyer, Amount: trade.Quantity, Release: true},
			{Vault: rec.QuoteVault, Party: seller, Amount: sellerProceeds, Release: true},
		}
		if fees > 0 {
			moves = append(moves, vault.Movement{Vault: rec.QuoteVault, Party: feeCollector, Amount: fees, Release: true})
		}
		if err := s.vaults.Apply(rec.ID, moves); err != nil {
			return err
		}

		trade.Settled = true
		rec.TotalVolume = volume
		rec.LastPrice = trade.Price
		s.recordTrades(bookID, []*models.Trade{&trade})

		if err := s.exchange.RecordFill(trade.Maker, trade.Quantity); err != nil {
			s.logger.Error("recording maker fill", zap.Error(err))
		}
		if err := s.exchange.RecordFill(trade.Taker, trade.Quantity); err != nil {
			s.logger.Error("recording taker fill", zap.Error(err))
		}

		s.persistTrade(&trade)
		if err := s.books.PersistBook(rec); err != nil {
			s.logger.Error("persisting book after settlement", zap.Error(err))
		}
		metrics.TradesSettled.Inc()
		s.logger.Info("trade settled",
			zap.String("book", bookID.String()),
			zap.Uint64("trade_id", tradeID),
			zap.Uint64("price", trade.Price),
			zap.Uint64("quantity", trade.Quantity))
		return nil
	})
}
