// Package exchange manages the deployment-wide exchange configuration and
// per-user trading accounts. It is a policy layer around the matching core:
// it consumes fills but takes no part in matching or custody invariants.
package exchange

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/internal/store"
	"github.com/openbourse/bourse/pkg/models"
	"github.com/openbourse/bourse/pkg/safemath"
)

// exchangeNamespace seeds the deterministic exchange record id.
var exchangeNamespace = uuid.MustParse("6f2d1c6e-9d32-5a41-8f10-3a7b9c54e210")

// Service implements the exchange configuration and trading-account
// operations.
type Service struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	store    *store.Store
	id       uuid.UUID
	exchange *models.Exchange
	accounts map[uuid.UUID]*models.TradingAccount
}

// NewService creates the service and restores persisted state.
func NewService(logger *zap.Logger, st *store.Store) (*Service, error) {
	s := &Service{
		logger:   logger,
		store:    st,
		id:       uuid.NewSHA1(exchangeNamespace, []byte("exchange")),
		accounts: make(map[uuid.UUID]*models.TradingAccount),
	}
	if st != nil {
		ex, found, err := st.GetExchange()
		if err != nil {
			return nil, err
		}
		if found {
			s.exchange = ex
		}
		accounts, err := st.ListTradingAccounts()
		if err != nil {
			return nil, err
		}
		for _, a := range accounts {
			s.accounts[a.Owner] = a
		}
	}
	return s, nil
}

// ID returns the deterministic exchange record id.
func (s *Service) ID() uuid.UUID { return s.id }

// Initialize creates the exchange singleton.
func (s *Service) Initialize(authority, feeCollector uuid.UUID, makerFeeBps, takerFeeBps uint16) error {
	if makerFeeBps > models.MaxFeeBps || takerFeeBps > models.MaxFeeBps {
		return errs.ErrInvalidFeePercentage
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exchange != nil {
		return errs.ErrExchangeInitialized
	}
	s.exchange = &models.Exchange{
		Authority:    authority,
		FeeCollector: feeCollector,
		MakerFeeBps:  makerFeeBps,
		TakerFeeBps:  takerFeeBps,
	}
	if err := s.persistLocked(); err != nil {
		s.exchange = nil
		return err
	}
	s.logger.Info("exchange initialized",
		zap.String("authority", authority.String()),
		zap.Uint16("maker_fee_bps", makerFeeBps),
		zap.Uint16("taker_fee_bps", takerFeeBps))
	return nil
}

// Pause halts order placement and book creation. Authority only.
func (s *Service) Pause(caller uuid.UUID) error {
	return s.setPaused(caller, true)
}

// Resume lifts a pause. Authority only.
func (s *Service) Resume(caller uuid.UUID) error {
	return s.setPaused(caller, false)
}

func (s *Service) setPaused(caller uuid.UUID, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exchange == nil {
		return errs.ErrExchangeNotReady
	}
	if s.exchange.Authority != caller {
		return errs.ErrUnauthorized
	}
	s.exchange.Paused = paused
	if err := s.persistLocked(); err != nil {
		s.exchange.Paused = !paused
		return err
	}
	s.logger.Info("exchange pause flag changed", zap.Bool("paused", paused))
	return nil
}

// EnsureActive fails when the exchange is missing or paused.
func (s *Service) EnsureActive() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.exchange == nil {
		return errs.ErrExchangeNotReady
	}
	if s.exchange.Paused {
		return errs.ErrExchangePaused
	}
	return nil
}

// Fees returns the configured maker and taker basis points.
func (s *Service) Fees() (maker, taker uint16, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.exchange == nil {
		return 0, 0, errs.ErrExchangeNotReady
	}
	return s.exchange.MakerFeeBps, s.exchange.TakerFeeBps, nil
}

// FeeCollector returns the fee-collection destination identity.
func (s *Service) FeeCollector() (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.exchange == nil {
		return uuid.Nil, errs.ErrExchangeNotReady
	}
	return s.exchange.FeeCollector, nil
}

// Snapshot returns a copy of the exchange record.
func (s *Service) Snapshot() (models.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.exchange == nil {
		return models.Exchange{}, errs.ErrExchangeNotReady
	}
	return *s.exchange, nil
}

// Authority returns the exchange authority identity.
func (s *Service) Authority() (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.exchange == nil {
		return uuid.Nil, errs.ErrExchangeNotReady
	}
	return s.exchange.Authority, nil
}

// MarketCreated bumps the market counter after a book is initialized.
func (s *Service) MarketCreated() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exchange == nil {
		return errs.ErrExchangeNotReady
	}
	next, ok := safemath.Add(s.exchange.TotalMarkets, 1)
	if !ok {
		return errs.ErrOverflow
	}
	prev := s.exchange.TotalMarkets
	s.exchange.TotalMarkets = next
	if err := s.persistLocked(); err != nil {
		s.exchange.TotalMarkets = prev
		return err
	}
	return nil
}

// CreateTradingAccount registers a trading account with an optional referrer.
func (s *Service) CreateTradingAccount(owner uuid.UUID, referrer *uuid.UUID) (*models.TradingAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exchange == nil {
		return nil, errs.ErrExchangeNotReady
	}
	if _, ok := s.accounts[owner]; ok {
		return nil, errs.ErrAccountExists
	}
	acct := &models.TradingAccount{
		Owner:    owner,
		Exchange: s.id,
		FeeTier:  models.FeeTierRetail,
		Referrer: referrer,
	}
	s.accounts[owner] = acct
	if err := s.persistAccountLocked(acct); err != nil {
		delete(s.accounts, owner)
		return nil, err
	}
	return copyAccount(acct), nil
}

// Account returns a snapshot of the owner's trading account.
func (s *Service) Account(owner uuid.UUID) (*models.TradingAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[owner]
	if !ok {
		return nil, errs.ErrAccountNotFound
	}
	return copyAccount(acct), nil
}

// RecordFill updates the owner's counters after a fill. Accounts are created
// lazily on first activity.
func (s *Service) RecordFill(owner uuid.UUID, quantity uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exchange == nil {
		return errs.ErrExchangeNotReady
	}
	acct, ok := s.accounts[owner]
	if !ok {
		acct = &models.TradingAccount{Owner: owner, Exchange: s.id, FeeTier: models.FeeTierRetail}
		s.accounts[owner] = acct
	}
	trades, ok := safemath.Add(acct.TotalTrades, 1)
	if !ok {
		return errs.ErrOverflow
	}
	volume, ok := safemath.Add(acct.TotalVolume, quantity)
	if !ok {
		return errs.ErrOverflow
	}
	acct.TotalTrades = trades
	acct.TotalVolume = volume
	acct.FeeTier = tierFor(volume)
	return s.persistAccountLocked(acct)
}

func tierFor(volume uint64) uint8 {
	switch {
	case volume >= models.FeeTierVIPThreshold:
		return models.FeeTierVIP
	case volume >= models.FeeTierVolume2Threshold:
		return models.FeeTierVolume2
	case volume >= models.FeeTierVolume1Threshold:
		return models.FeeTierVolume1
	default:
		return models.FeeTierRetail
	}
}

func (s *Service) persistLocked() error {
	if s.store == nil {
		return nil
	}
	return s.store.PutExchange(s.exchange)
}

func (s *Service) persistAccountLocked(acct *models.TradingAccount) error {
	if s.store == nil {
		return nil
	}
	return s.store.PutTradingAccount(acct)
}

func copyAccount(a *models.TradingAccount) *models.TradingAccount {
	cp := *a
	if a.Referrer != nil {
		ref := *a.Referrer
		cp.Referrer = &ref
	}
	return &cp
}
