// Package store persists the core records in BadgerDB using their fixed-width
// binary layout. Numeric ids are big-endian in keys so prefix iteration
// yields records in id order.
package store

import (
	"encoding"
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openbourse/bourse/pkg/models"
)

// Store is a disk-backed (or in-memory, for tests) record store.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

// Open initializes the store at path. An empty path opens an in-memory
// instance.
func Open(path string, logger *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // disable badger's internal logging
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const (
	prefixExchange     = "exchange"
	prefixEscrowAuth   = "escrow_authority"
	prefixBook         = "book:"
	prefixOrder        = "order:"
	prefixTrade        = "trade:"
	prefixAccount      = "account:"
	prefixEscrowRecord = "escrow:"
)

func bookKey(id uuid.UUID) []byte {
	return append([]byte(prefixBook), id[:]...)
}

func scopedKey(prefix string, book uuid.UUID, id uint64) []byte {
	k := make([]byte, 0, len(prefix)+16+8)
	k = append(k, prefix...)
	k = append(k, book[:]...)
	k = binary.BigEndian.AppendUint64(k, id)
	return k
}

func accountKey(owner uuid.UUID) []byte {
	return append([]byte(prefixAccount), owner[:]...)
}

func escrowKey(tradeID uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(prefixEscrowRecord), tradeID)
}

func (s *Store) put(key []byte, rec encoding.BinaryMarshaler) error {
	val, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (s *Store) get(key []byte, rec encoding.BinaryUnmarshaler) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(rec.UnmarshalBinary)
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PutExchange persists the exchange singleton.
func (s *Store) PutExchange(e *models.Exchange) error {
	return s.put([]byte(prefixExchange), e)
}

// GetExchange loads the exchange singleton; found is false when none exists.
func (s *Store) GetExchange() (*models.Exchange, bool, error) {
	var e models.Exchange
	found, err := s.get([]byte(prefixExchange), &e)
	return &e, found, err
}

func (s *Store) PutOrderBook(b *models.OrderBook) error {
	return s.put(bookKey(b.ID), b)
}

func (s *Store) GetOrderBook(id uuid.UUID) (*models.OrderBook, bool, error) {
	var b models.OrderBook
	found, err := s.get(bookKey(id), &b)
	return &b, found, err
}

// ListOrderBooks returns every persisted book record.
func (s *Store) ListOrderBooks() ([]*models.OrderBook, error) {
	var books []*models.OrderBook
	err := s.iterate([]byte(prefixBook), func(val []byte) error {
		var b models.OrderBook
		if err := b.UnmarshalBinary(val); err != nil {
			return err
		}
		books = append(books, &b)
		return nil
	})
	return books, err
}

func (s *Store) PutOrder(o *models.Order) error {
	return s.put(scopedKey(prefixOrder, o.Book, o.ID), o)
}

func (s *Store) GetOrder(book uuid.UUID, id uint64) (*models.Order, bool, error) {
	var o models.Order
	found, err := s.get(scopedKey(prefixOrder, book, id), &o)
	return &o, found, err
}

// ListOrders returns a book's orders in id order.
func (s *Store) ListOrders(book uuid.UUID) ([]*models.Order, error) {
	prefix := append([]byte(prefixOrder), book[:]...)
	var orders []*models.Order
	err := s.iterate(prefix, func(val []byte) error {
		var o models.Order
		if err := o.UnmarshalBinary(val); err != nil {
			return err
		}
		orders = append(orders, &o)
		return nil
	})
	return orders, err
}

func (s *Store) PutTrade(t *models.Trade) error {
	return s.put(scopedKey(prefixTrade, t.Book, t.ID), t)
}

func (s *Store) GetTrade(book uuid.UUID, id uint64) (*models.Trade, bool, error) {
	var t models.Trade
	found, err := s.get(scopedKey(prefixTrade, book, id), &t)
	return &t, found, err
}

func (s *Store) PutTradingAccount(a *models.TradingAccount) error {
	return s.put(accountKey(a.Owner), a)
}

func (s *Store) GetTradingAccount(owner uuid.UUID) (*models.TradingAccount, bool, error) {
	var a models.TradingAccount
	found, err := s.get(accountKey(owner), &a)
	return &a, found, err
}

// ListTradingAccounts returns every persisted trading account.
func (s *Store) ListTradingAccounts() ([]*models.TradingAccount, error) {
	var accounts []*models.TradingAccount
	err := s.iterate([]byte(prefixAccount), func(val []byte) error {
		var a models.TradingAccount
		if err := a.UnmarshalBinary(val); err != nil {
			return err
		}
		accounts = append(accounts, &a)
		return nil
	})
	return accounts, err
}

func (s *Store) PutEscrow(e *models.Escrow) error {
	return s.put(escrowKey(e.TradeID), e)
}

func (s *Store) GetEscrow(tradeID uint64) (*models.Escrow, bool, error) {
	var e models.Escrow
	found, err := s.get(escrowKey(tradeID), &e)
	return &e, found, err
}

// ListEscrows returns every escrow record in trade-id order.
func (s *Store) ListEscrows() ([]*models.Escrow, error) {
	var escrows []*models.Escrow
	err := s.iterate([]byte(prefixEscrowRecord), func(val []byte) error {
		var e models.Escrow
		if err := e.UnmarshalBinary(val); err != nil {
			return err
		}
		escrows = append(escrows, &e)
		return nil
	})
	return escrows, err
}

func (s *Store) PutEscrowAuthority(a *models.EscrowAuthority) error {
	return s.put([]byte(prefixEscrowAuth), a)
}

func (s *Store) GetEscrowAuthority() (*models.EscrowAuthority, bool, error) {
	var a models.EscrowAuthority
	found, err := s.get([]byte(prefixEscrowAuth), &a)
	return &a, found, err
}

func (s *Store) iterate(prefix []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
