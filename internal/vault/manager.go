// Package vault implements the custody manager. Vaults hold value locked for
// an order book or escrow record; release is only reachable through the
// owning record's code path, proven by the owner id the managing service
// holds. Both asset representations (fungible-token ledger entries and
// native-currency balances) go through the same debit/credit contract.
package vault

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/pkg/models"
	"github.com/openbourse/bourse/pkg/safemath"
)

// AccountRef identifies one external balance in the custody domain.
type AccountRef struct {
	Holder uuid.UUID
	Kind   models.AssetKind
	Asset  uuid.UUID // zero for native currency
}

// Vault is custody storage owned by exactly one record.
type Vault struct {
	ID      uuid.UUID
	Owner   uuid.UUID
	Kind    models.AssetKind
	Asset   uuid.UUID
	Balance uint64
}

// Movement is one leg of an atomic transfer batch.
type Movement struct {
	Vault   uuid.UUID
	Party   uuid.UUID // external counterparty
	Amount  uint64
	Release bool // release: vault → party; otherwise lock: party → vault
}

// Manager keeps the vault set and the external balance ledger. All mutations
// are applied atomically under one lock: an operation either commits every
// staged debit/credit or none.
type Manager struct {
	mu       sync.Mutex
	logger   *zap.Logger
	vaults   map[uuid.UUID]*Vault
	balances map[AccountRef]uint64
}

// NewManager creates an empty custody manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger,
		vaults:   make(map[uuid.UUID]*Vault),
		balances: make(map[AccountRef]uint64),
	}
}

// CreateVault derives a deterministic vault keyed by the owning record, the
// asset leg, and a label distinguishing multiple vaults of one owner. The
// vault has no independent identity: only the owner id authorizes release.
func (m *Manager) CreateVault(owner uuid.UUID, kind models.AssetKind, asset uuid.UUID, label string) uuid.UUID {
	seed := make([]byte, 0, len(asset)+len(label)+1)
	seed = append(seed, asset[:]...)
	seed = append(seed, byte(kind))
	seed = append(seed, label...)
	id := uuid.NewSHA1(owner, seed)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vaults[id]; !ok {
		m.vaults[id] = &Vault{ID: id, Owner: owner, Kind: kind, Asset: asset}
	}
	return id
}

// Fund credits an external balance from outside the custody domain
// (deposits, test fixtures). Fails with Overflow if the balance would wrap.
func (m *Manager) Fund(ref AccountRef, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := safemath.Add(m.balances[ref], amount)
	if !ok {
		return errs.ErrOverflow
	}
	m.balances[ref] = next
	return nil
}

// BalanceOf returns the external balance for ref.
func (m *Manager) BalanceOf(ref AccountRef) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[ref]
}

// VaultBalance returns the held balance of a vault.
func (m *Manager) VaultBalance(id uuid.UUID) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaults[id]
	if !ok {
		return 0, errs.ErrVaultNotFound
	}
	return v.Balance, nil
}

// Lock debits the source's external balance and credits the vault.
func (m *Manager) Lock(vaultID uuid.UUID, amount uint64, source uuid.UUID) error {
	return m.apply(uuid.Nil, []Movement{{Vault: vaultID, Party: source, Amount: amount}})
}

// Release debits the vault and credits the destination's external balance.
// The owner id must match the vault's owning record.
func (m *Manager) Release(vaultID, owner uuid.UUID, amount uint64, dest uuid.UUID) error {
	return m.apply(owner, []Movement{{Vault: vaultID, Party: dest, Amount: amount, Release: true}})
}

// Apply commits a multi-leg transfer atomically: every movement is validated
// against the staged balances first, then all are applied. Any failure leaves
// no partial transfer.
func (m *Manager) Apply(owner uuid.UUID, moves []Movement) error {
	return m.apply(owner, moves)
}

// Sweep releases the entire remaining vault balance to dest and returns the
// swept amount. Recovery path for stuck funds.
func (m *Manager) Sweep(vaultID, owner uuid.UUID, dest uuid.UUID) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaults[vaultID]
	if !ok {
		return 0, errs.ErrVaultNotFound
	}
	if v.Owner != owner {
		return 0, errs.ErrUnauthorized
	}
	amount := v.Balance
	if amount == 0 {
		return 0, nil
	}
	ref := AccountRef{Holder: dest, Kind: v.Kind, Asset: v.Asset}
	credited, ok := safemath.Add(m.balances[ref], amount)
	if !ok {
		return 0, errs.ErrOverflow
	}
	v.Balance = 0
	m.balances[ref] = credited
	return amount, nil
}

func (m *Manager) apply(owner uuid.UUID, moves []Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stagedVaults := make(map[uuid.UUID]uint64, len(moves))
	stagedBalances := make(map[AccountRef]uint64, len(moves))

	for _, mv := range moves {
		v, ok := m.vaults[mv.Vault]
		if !ok {
			return errs.ErrVaultNotFound
		}
		if _, seen := stagedVaults[v.ID]; !seen {
			stagedVaults[v.ID] = v.Balance
		}
		ref := AccountRef{Holder: mv.Party, Kind: v.Kind, Asset: v.Asset}
		if _, seen := stagedBalances[ref]; !seen {
			stagedBalances[ref] = m.balances[ref]
		}

		if mv.Release {
			if v.Owner != owner {
				return errs.ErrUnauthorized
			}
			next, ok := safemath.Sub(stagedVaults[v.ID], mv.Amount)
			if !ok {
				return errs.ErrInsufficientFunds
			}
			stagedVaults[v.ID] = next
			credited, ok := safemath.Add(stagedBalances[ref], mv.Amount)
			if !ok {
				return errs.ErrOverflow
			}
			stagedBalances[ref] = credited
		} else {
			next, ok := safemath.Sub(stagedBalances[ref], mv.Amount)
			if !ok {
				return errs.ErrInsufficientFunds
			}
			stagedBalances[ref] = next
			credited, ok := safemath.Add(stagedVaults[v.ID], mv.Amount)
			if !ok {
				return errs.ErrOverflow
			}
			stagedVaults[v.ID] = credited
		}
	}

	for id, bal := range stagedVaults {
		m.vaults[id].Balance = bal
	}
	for ref, bal := range stagedBalances {
		m.balances[ref] = bal
	}

	if m.logger != nil {
		m.logger.Debug("custody transfer applied", zap.Int("movements", len(moves)))
	}
	return nil
}
