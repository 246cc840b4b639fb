package service

import (
	"context"

	"github.com/punchamoorthee/teampool/internal/domain"
)

// Ledger is the record store behind the engine. UpdatePool runs fn as one
// atomic unit of work: concurrent calls for the same pool are serialized and
// nothing fn did is kept unless it returns nil.
type Ledger interface {
	NextSequence(ctx context.Context, creator string) (uint64, error)
	CreatePool(ctx context.Context, pool *domain.Pool, vault *domain.Vault) error
	UpdatePool(ctx context.Context, poolID string, fn func(ctx context.Context, tx Tx) error) error

	GetPool(ctx context.Context, poolID string) (*domain.Pool, error)
	GetVault(ctx context.Context, poolID string) (*domain.Vault, error)
	ListPools(ctx context.Context, creator string) ([]*domain.Pool, error)

	CreateAccount(ctx context.Context, id string) (*domain.Account, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)

	ListTransfers(ctx context.Context, poolID string) ([]domain.Transfer, error)
	ListEntries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error)
}

// Funder mints value into user accounts. Only development ledgers offer it.
type Funder interface {
	Credit(ctx context.Context, id string, amount int64) (*domain.Account, error)
}

// Tx is the view of one pool inside a unit of work. Pool and Vault return
// copies owned by the caller; Save stages them for commit.
type Tx interface {
	Pool() *domain.Pool
	Vault() *domain.Vault
	// Transfer moves amount between two accounts. It fails with
	// domain.ErrInsufficientFunds without moving anything if from is short,
	// and with domain.ErrAccountKind if kind does not permit the account pair.
	Transfer(ctx context.Context, kind domain.TransferKind, from, to string, amount int64) error
	Save(ctx context.Context, pool *domain.Pool, vault *domain.Vault) error
}
