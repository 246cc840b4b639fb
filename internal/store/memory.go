package store

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/punchamoorthee/teampool/internal/domain"
	"github.com/punchamoorthee/teampool/internal/service"
)

// MemoryStore is an in-process ledger. Every pool has its own mutex, held for
// the whole unit of work, so pools never block each other.
type MemoryStore struct {
	mu        sync.RWMutex
	pools     map[string]*poolSlot
	byCreator map[string][]string
	sequences map[string]uint64

	// accountsMu guards balances and the transfer journal. It is always
	// acquired after a pool mutex, never before.
	accountsMu     sync.Mutex
	accounts       map[string]*domain.Account
	transfers      []domain.Transfer
	entries        []domain.LedgerEntry
	nextTransferID int64
	nextEntryID    int64

	now func() time.Time
}

type poolSlot struct {
	mu    sync.Mutex
	pool  *domain.Pool
	vault *domain.Vault
}

var _ service.Ledger = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:     make(map[string]*poolSlot),
		byCreator: make(map[string][]string),
		sequences: make(map[string]uint64),
		accounts:  make(map[string]*domain.Account),
		now:       time.Now,
	}
}

func (s *MemoryStore) NextSequence(_ context.Context, creator string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.sequences[creator]
	s.sequences[creator] = seq + 1
	return seq, nil
}

func (s *MemoryStore) CreatePool(_ context.Context, pool *domain.Pool, vault *domain.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[pool.ID]; ok {
		return domain.ErrPoolExists
	}

	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	if _, ok := s.accounts[vault.ID]; ok {
		return domain.ErrPoolExists
	}
	s.accounts[vault.ID] = &domain.Account{
		ID:        vault.ID,
		Kind:      domain.AccountKindVault,
		Balance:   vault.Amount,
		CreatedAt: s.now().UTC(),
	}

	s.pools[pool.ID] = &poolSlot{pool: pool.Clone(), vault: vault.Clone()}
	s.byCreator[pool.Creator] = append(s.byCreator[pool.Creator], pool.ID)
	return nil
}

func (s *MemoryStore) UpdatePool(ctx context.Context, poolID string, fn func(context.Context, service.Tx) error) error {
	slot := s.slot(poolID)
	if slot == nil {
		return domain.ErrPoolNotFound
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{store: s, slot: slot}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, poolID string) (*domain.Pool, error) {
	slot := s.slot(poolID)
	if slot == nil {
		return nil, domain.ErrPoolNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.pool.Clone(), nil
}

func (s *MemoryStore) GetVault(_ context.Context, poolID string) (*domain.Vault, error) {
	slot := s.slot(poolID)
	if slot == nil {
		return nil, domain.ErrPoolNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.vault.Clone(), nil
}

func (s *MemoryStore) ListPools(_ context.Context, creator string) ([]*domain.Pool, error) {
	s.mu.RLock()
	ids := append([]string(nil), s.byCreator[creator]...)
	s.mu.RUnlock()

	pools := make([]*domain.Pool, 0, len(ids))
	for _, id := range ids {
		slot := s.slot(id)
		slot.mu.Lock()
		pools = append(pools, slot.pool.Clone())
		slot.mu.Unlock()
	}
	return pools, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, id string) (*domain.Account, error) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	if acc, ok := s.accounts[id]; ok {
		c := *acc
		return &c, nil
	}
	acc := &domain.Account{ID: id, Kind: domain.AccountKindUser, CreatedAt: s.now().UTC()}
	s.accounts[id] = acc
	c := *acc
	return &c, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	c := *acc
	return &c, nil
}

// Credit mints amount into a user account outside of any pool, creating the
// account if needed. Vault accounts only move through pool transfers.
func (s *MemoryStore) Credit(_ context.Context, id string, amount int64) (*domain.Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		acc = &domain.Account{ID: id, Kind: domain.AccountKindUser, CreatedAt: s.now().UTC()}
		s.accounts[id] = acc
	}
	if acc.Kind != domain.AccountKindUser {
		return nil, fmt.Errorf("%w: cannot credit %s account %s", domain.ErrAccountKind, acc.Kind, id)
	}
	if acc.Balance > math.MaxInt64-amount {
		return nil, domain.ErrBalanceOverflow
	}
	acc.Balance += amount
	c := *acc
	return &c, nil
}

// Fund is Credit for setup code. It panics if the credit is refused.
func (s *MemoryStore) Fund(id string, amount int64) {
	if _, err := s.Credit(context.Background(), id, amount); err != nil {
		panic(err)
	}
}

// ListTransfers returns the committed transfers of one pool, oldest first.
func (s *MemoryStore) ListTransfers(_ context.Context, poolID string) ([]domain.Transfer, error) {
	if s.slot(poolID) == nil {
		return nil, domain.ErrPoolNotFound
	}

	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	out := []domain.Transfer{}
	for _, tr := range s.transfers {
		if tr.PoolID == poolID {
			out = append(out, tr)
		}
	}
	return out, nil
}

// ListEntries returns the ledger entries posted to one account, newest first.
func (s *MemoryStore) ListEntries(_ context.Context, accountID string) ([]domain.LedgerEntry, error) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, domain.ErrAccountNotFound
	}
	out := []domain.LedgerEntry{}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].AccountID == accountID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// Transfers returns a snapshot of the committed transfer journal.
func (s *MemoryStore) Transfers() []domain.Transfer {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	return append([]domain.Transfer(nil), s.transfers...)
}

// Entries returns a snapshot of the committed ledger entries.
func (s *MemoryStore) Entries() []domain.LedgerEntry {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	return append([]domain.LedgerEntry(nil), s.entries...)
}

func (s *MemoryStore) slot(poolID string) *poolSlot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pools[poolID]
}

type memTx struct {
	store *MemoryStore
	slot  *poolSlot

	applied []domain.Transfer
	pool    *domain.Pool
	vault   *domain.Vault
}

func (t *memTx) Pool() *domain.Pool   { return t.slot.pool.Clone() }
func (t *memTx) Vault() *domain.Vault { return t.slot.vault.Clone() }

// Transfer applies the movement immediately and remembers it so a failed
// unit of work can hand the value back.
func (t *memTx) Transfer(_ context.Context, kind domain.TransferKind, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	if from == to {
		return fmt.Errorf("transfer to self: %s", from)
	}

	s := t.store
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	src, ok := s.accounts[from]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, from)
	}
	dst, ok := s.accounts[to]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, to)
	}
	if !kind.Allows(src.Kind, dst.Kind) {
		return fmt.Errorf("%w: %s from %s account %s to %s account %s",
			domain.ErrAccountKind, kind, src.Kind, from, dst.Kind, to)
	}
	if src.Balance < amount {
		return domain.ErrInsufficientFunds
	}
	if dst.Balance > math.MaxInt64-amount {
		return domain.ErrBalanceOverflow
	}

	src.Balance -= amount
	dst.Balance += amount
	t.applied = append(t.applied, domain.Transfer{
		PoolID:        t.slot.pool.ID,
		Kind:          kind,
		FromAccountID: from,
		ToAccountID:   to,
		Amount:        amount,
		CreatedAt:     s.now().UTC(),
	})
	return nil
}

func (t *memTx) Save(_ context.Context, pool *domain.Pool, vault *domain.Vault) error {
	if pool.ID != t.slot.pool.ID || vault.ID != t.slot.vault.ID {
		return fmt.Errorf("save: records do not belong to pool %s", t.slot.pool.ID)
	}

	s := t.store
	s.accountsMu.Lock()
	custody := s.accounts[vault.ID].Balance
	s.accountsMu.Unlock()
	if custody != vault.Amount {
		return fmt.Errorf("save: vault %s records %d but custody holds %d", vault.ID, vault.Amount, custody)
	}

	t.pool = pool.Clone()
	t.vault = vault.Clone()
	return nil
}

func (t *memTx) commit() {
	if t.pool != nil {
		t.slot.pool = t.pool
		t.slot.vault = t.vault
	}

	s := t.store
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	for _, tr := range t.applied {
		s.nextTransferID++
		tr.ID = s.nextTransferID
		s.transfers = append(s.transfers, tr)
		for _, leg := range []struct {
			account string
			delta   int64
		}{{tr.FromAccountID, -tr.Amount}, {tr.ToAccountID, tr.Amount}} {
			s.nextEntryID++
			s.entries = append(s.entries, domain.LedgerEntry{
				ID:         s.nextEntryID,
				TransferID: tr.ID,
				AccountID:  leg.account,
				Delta:      leg.delta,
				CreatedAt:  tr.CreatedAt,
			})
		}
	}
}

func (t *memTx) rollback() {
	s := t.store
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	for i := len(t.applied) - 1; i >= 0; i-- {
		tr := t.applied[i]
		s.accounts[tr.FromAccountID].Balance += tr.Amount
		s.accounts[tr.ToAccountID].Balance -= tr.Amount
	}
	t.applied = nil
}
