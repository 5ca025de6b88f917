// Package escrow implements the bilateral swap state machine: two parties
// fund two legs into protocol-held vaults, and once both legs meet their
// promised amounts anyone may trigger the atomic exchange. Deadlines are
// soft; expiry is observed only when a party submits an operation.
package escrow

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/internal/store"
	"github.com/openbourse/bourse/internal/vault"
	"github.com/openbourse/bourse/pkg/metrics"
	"github.com/openbourse/bourse/pkg/models"
	"github.com/openbourse/bourse/pkg/safemath"
)

// escrowNamespace salts the derived per-escrow owner identity.
var escrowNamespace = uuid.MustParse("b4c8a2f1-7e3d-5b96-8c04-d1f52a6e9b37")

// Leg selects which side of the swap a deposit funds.
type Leg uint8

const (
	LegBase Leg = iota
	LegQuote
)

type entry struct {
	mu  sync.Mutex
	rec *models.Escrow
}

// Service owns the escrow records and their custody vaults.
type Service struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	vaults    *vault.Manager
	store     *store.Store
	authority *models.EscrowAuthority
	escrows   map[uint64]*entry
	now       func() time.Time
}

// NewService creates the service and restores persisted escrows.
func NewService(logger *zap.Logger, vaults *vault.Manager, st *store.Store, authorityID uuid.UUID) (*Service, error) {
	s := &Service{
		logger:    logger,
		vaults:    vaults,
		store:     st,
		authority: &models.EscrowAuthority{Authority: authorityID},
		escrows:   make(map[uint64]*entry),
		now:       time.Now,
	}
	if st == nil {
		return s, nil
	}
	if auth, found, err := st.GetEscrowAuthority(); err != nil {
		return nil, err
	} else if found {
		auth.Authority = authorityID
		s.authority = auth
	}
	recs, err := st.ListEscrows()
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		owner := ownerID(rec.TradeID)
		s.vaults.CreateVault(owner, rec.BaseKind, rec.BaseAsset, "base")
		s.vaults.CreateVault(owner, rec.QuoteKind, rec.QuoteAsset, "quote")
		s.escrows[rec.TradeID] = &entry{rec: rec}
	}
	return s, nil
}

// ownerID derives the custody identity of one escrow from its trade id.
func ownerID(tradeID uint64) uuid.UUID {
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], tradeID)
	return uuid.NewSHA1(escrowNamespace, seed[:])
}

// Initialize creates a Pending escrow keyed by the caller-supplied trade id.
func (s *Service) Initialize(tradeID uint64, buyer, seller, baseAsset, quoteAsset uuid.UUID, baseKind, quoteKind models.AssetKind, baseAmount, quoteAmount uint64, expiry int64) (*models.Escrow, error) {
	if baseAmount == 0 || quoteAmount == 0 {
		return nil, errs.ErrInvalidDepositAmount
	}
	now := s.now().Unix()
	duration := expiry - now
	if duration < int64(models.MinEscrowDuration/time.Second) || duration > int64(models.MaxEscrowDuration/time.Second) {
		return nil, errs.ErrInvalidDuration
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escrows[tradeID]; ok {
		return nil, errs.ErrEscrowExists
	}

	owner := ownerID(tradeID)
	rec := &models.Escrow{
		TradeID:     tradeID,
		Buyer:       buyer,
		Seller:      seller,
		BaseAsset:   baseAsset,
		QuoteAsset:  quoteAsset,
		BaseKind:    baseKind,
		QuoteKind:   quoteKind,
		BaseAmount:  baseAmount,
		QuoteAmount: quoteAmount,
		BaseVault:   s.vaults.CreateVault(owner, baseKind, baseAsset, "base"),
		QuoteVault:  s.vaults.CreateVault(owner, quoteKind, quoteAsset, "quote"),
		Status:      models.EscrowPending,
		CreatedAt:   now,
		Expiry:      expiry,
	}
	if err := s.persist(rec); err != nil {
		return nil, err
	}
	total, ok := safemath.Add(s.authority.TotalEscrows, 1)
	if !ok {
		return nil, errs.ErrOverflow
	}
	s.authority.TotalEscrows = total
	s.persistAuthority()
	s.escrows[tradeID] = &entry{rec: rec}

	metrics.EscrowTransitions.WithLabelValues(rec.Status.String()).Inc()
	s.logger.Info("escrow initialized",
		zap.Uint64("trade_id", tradeID),
		zap.Uint64("base_amount", baseAmount),
		zap.Uint64("quote_amount", quoteAmount),
		zap.Int64("expiry", expiry))
	cp := *rec
	return &cp, nil
}

func (s *Service) entry(tradeID uint64) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escrows[tradeID]
	if !ok {
		return nil, errs.ErrEscrowNotFound
	}
	return e, nil
}

// Escrow returns a snapshot of one escrow record.
func (s *Service) Escrow(tradeID uint64) (*models.Escrow, error) {
	e, err := s.entry(tradeID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.rec
	return &cp, nil
}

// Authority returns a snapshot of the aggregate counters.
func (s *Service) Authority() models.EscrowAuthority {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.authority
}

// Deposit funds one leg from the caller's balance. Either party may fund
// either leg, but only while the escrow is Pending and not expired.
func (s *Service) Deposit(tradeID uint64, caller uuid.UUID, leg Leg, amount uint64) (*models.Escrow, error) {
	if amount == 0 {
		return nil, errs.ErrInvalidDepositAmount
	}
	e, err := s.entry(tradeID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.rec
	if caller != rec.Buyer && caller != rec.Seller {
		return nil, errs.ErrUnauthorized
	}
	if rec.Status != models.EscrowPending {
		return nil, errs.ErrEscrowNotPending
	}
	if rec.Expired(s.now().Unix()) {
		return nil, errs.ErrEscrowExpired
	}

	vaultID := rec.BaseVault
	deposited := &rec.BaseDeposited
	if leg == LegQuote {
		vaultID = rec.QuoteVault
		deposited = &rec.QuoteDeposited
	}
	next, ok := safemath.Add(*deposited, amount)
	if !ok {
		return nil, errs.ErrOverflow
	}
	if err := s.vaults.Lock(vaultID, amount, caller); err != nil {
		return nil, err
	}
	*deposited = next
	if rec.FullyFunded() {
		rec.Status = models.EscrowFunded
		metrics.EscrowTransitions.WithLabelValues(rec.Status.String()).Inc()
	}
	if err := s.persist(rec); err != nil {
		s.logger.Error("persisting escrow after deposit", zap.Error(err))
	}

	s.logger.Info("escrow deposit",
		zap.Uint64("trade_id", tradeID),
		zap.Uint64("amount", amount),
		zap.String("status", rec.Status.String()))
	cp := *rec
	return &cp, nil
}

// Execute performs the atomic swap: the promised base amount to the buyer,
// the promised quote amount to the seller. Anyone may trigger it once the
// escrow is Funded and the deadline has not passed.
func (s *Service) Execute(tradeID uint64) (*models.Escrow, error) {
	e, err := s.entry(tradeID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.rec
	if rec.Status == models.EscrowExecuted {
		return nil, errs.ErrEscrowExecuted
	}
	if rec.Status != models.EscrowFunded {
		return nil, errs.ErrEscrowNotFunded
	}
	if rec.Expired(s.now().Unix()) {
		return nil, errs.ErrEscrowExpired
	}

	owner := ownerID(tradeID)
	moves := []vault.Movement{
		{Vault: rec.BaseVault, Party: rec.Buyer, Amount: rec.BaseAmount, Release: true},
		{Vault: rec.QuoteVault, Party: rec.Seller, Amount: rec.QuoteAmount, Release: true},
	}
	if err := s.vaults.Apply(owner, moves); err != nil {
		return nil, err
	}
	rec.Status = models.EscrowExecuted
	if err := s.persist(rec); err != nil {
		s.logger.Error("persisting executed escrow", zap.Error(err))
	}

	s.mu.Lock()
	if volume, ok := safemath.Add(s.authority.TotalVolume, rec.BaseAmount); ok {
		s.authority.TotalVolume = volume
		s.persistAuthority()
	}
	s.mu.Unlock()

	metrics.EscrowTransitions.WithLabelValues(rec.Status.String()).Inc()
	s.logger.Info("escrow executed", zap.Uint64("trade_id", tradeID))
	cp := *rec
	return &cp, nil
}

// Cancel unwinds the escrow: base deposits go back to the seller side, quote
// deposits back to the buyer side. Before expiry only the parties may cancel
// a Pending escrow; after expiry anyone may trigger the cleanup, and the
// terminal status becomes Expired instead of Cancelled.
func (s *Service) Cancel(tradeID uint64, caller uuid.UUID) (*models.Escrow, error) {
	e, err := s.entry(tradeID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.rec
	if rec.Status == models.EscrowExecuted {
		return nil, errs.ErrEscrowExecuted
	}
	if rec.Status.Terminal() {
		return nil, errs.ErrEscrowCancelled
	}
	expired := rec.Expired(s.now().Unix())
	if !expired {
		if rec.Status != models.EscrowPending {
			return nil, errs.ErrEscrowNotPending
		}
		if caller != rec.Buyer && caller != rec.Seller {
			return nil, errs.ErrUnauthorized
		}
	}

	owner := ownerID(tradeID)
	var moves []vault.Movement
	if rec.BaseDeposited > 0 {
		moves = append(moves, vault.Movement{Vault: rec.BaseVault, Party: rec.Seller, Amount: rec.BaseDeposited, Release: true})
	}
	if rec.QuoteDeposited > 0 {
		moves = append(moves, vault.Movement{Vault: rec.QuoteVault, Party: rec.Buyer, Amount: rec.QuoteDeposited, Release: true})
	}
	if len(moves) > 0 {
		if err := s.vaults.Apply(owner, moves); err != nil {
			return nil, err
		}
	}
	rec.BaseDeposited = 0
	rec.QuoteDeposited = 0
	if expired {
		rec.Status = models.EscrowExpired
	} else {
		rec.Status = models.EscrowCancelled
	}
	if err := s.persist(rec); err != nil {
		s.logger.Error("persisting cancelled escrow", zap.Error(err))
	}

	metrics.EscrowTransitions.WithLabelValues(rec.Status.String()).Inc()
	s.logger.Info("escrow cancelled",
		zap.Uint64("trade_id", tradeID),
		zap.String("status", rec.Status.String()))
	cp := *rec
	return &cp, nil
}

// EmergencyWithdraw sweeps whatever remains in both vaults to dest. Recovery
// path for stuck funds; restricted to the escrow authority and usable only
// after the deadline has passed.
func (s *Service) EmergencyWithdraw(tradeID uint64, caller, dest uuid.UUID) (uint64, error) {
	s.mu.RLock()
	authorized := caller == s.authority.Authority
	s.mu.RUnlock()
	if !authorized {
		return 0, errs.ErrUnauthorized
	}

	e, err := s.entry(tradeID)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.rec
	if !rec.Expired(s.now().Unix()) {
		return 0, errs.ErrEscrowNotExpired
	}

	owner := ownerID(tradeID)
	baseSwept, err := s.vaults.Sweep(rec.BaseVault, owner, dest)
	if err != nil {
		return 0, err
	}
	quoteSwept, err := s.vaults.Sweep(rec.QuoteVault, owner, dest)
	if err != nil {
		return baseSwept, err
	}
	rec.BaseDeposited = 0
	rec.QuoteDeposited = 0
	if !rec.Status.Terminal() {
		rec.Status = models.EscrowExpired
		metrics.EscrowTransitions.WithLabelValues(rec.Status.String()).Inc()
	}
	if err := s.persist(rec); err != nil {
		s.logger.Error("persisting escrow after emergency withdraw", zap.Error(err))
	}

	total := baseSwept + quoteSwept
	s.logger.Warn("escrow emergency withdraw",
		zap.Uint64("trade_id", tradeID),
		zap.Uint64("amount", total))
	return total, nil
}

func (s *Service) persist(rec *models.Escrow) error {
	if s.store == nil {
		return nil
	}
	return s.store.PutEscrow(rec)
}

func (s *Service) persistAuthority() {
	if s.store == nil {
		return
	}
	if err := s.store.PutEscrowAuthority(s.authority); err != nil {
		s.logger.Error("persisting escrow authority", zap.Error(err))
	}
}
