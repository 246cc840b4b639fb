package domain

import (
	"time"
)

// PoolStatus is the lifecycle state of a pool.
type PoolStatus string

const (
	PoolStatusOpen     PoolStatus = "open"
	PoolStatusFull     PoolStatus = "full"
	PoolStatusClosed   PoolStatus = "closed"
	PoolStatusCanceled PoolStatus = "canceled"
)

// Valid reports whether s is one of the known statuses.
func (s PoolStatus) Valid() bool {
	switch s {
	case PoolStatusOpen, PoolStatusFull, PoolStatusClosed, PoolStatusCanceled:
		return true
	}
	return false
}

// Privacy controls who may join a pool.
type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyPrivate Privacy = "private"
)

func (p Privacy) Valid() bool {
	switch p {
	case PrivacyPublic, PrivacyPrivate:
		return true
	}
	return false
}

// AccountKind distinguishes member wallets from vault custody accounts.
type AccountKind string

const (
	AccountKindUser  AccountKind = "user"
	AccountKindVault AccountKind = "vault"
)

// Account is a balance-holding entry of the ledger. Balances are in minor units.
type Account struct {
	ID        string      `json:"id"`
	Kind      AccountKind `json:"kind"`
	Balance   int64       `json:"balance"`
	CreatedAt time.Time   `json:"created_at"`
}

// Pool is a creator-initiated contribution campaign.
type Pool struct {
	ID             string     `json:"id"`
	Creator        string     `json:"creator"`
	Sequence       uint64     `json:"sequence"`
	Members        []string   `json:"members"`
	MaxMembers     uint32     `json:"max_members"`
	Price          int64      `json:"price"`
	PricePerMember int64      `json:"price_per_member"`
	Status         PoolStatus `json:"status"`
	Privacy        Privacy    `json:"privacy"`
	PoolCode       string     `json:"-"`
	Vault          int64      `json:"vault"`
	VaultID        string     `json:"vault_id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate it without touching stored state.
func (p *Pool) Clone() *Pool {
	c := *p
	c.Members = append([]string(nil), p.Members...)
	return &c
}

// HasMember reports whether id already holds a slot.
func (p *Pool) HasMember(id string) bool {
	for _, m := range p.Members {
		if m == id {
			return true
		}
	}
	return false
}

// Vault is the custody record of a pool. Its ID doubles as the custody account ID.
type Vault struct {
	ID        string    `json:"id"`
	PoolID    string    `json:"pool_id"`
	Authority string    `json:"authority"`
	Amount    int64     `json:"amount"`
	PaidOut   int64     `json:"paid_out"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (v *Vault) Clone() *Vault {
	c := *v
	return &c
}

// TransferKind labels why value moved.
type TransferKind string

const (
	TransferKindContribution TransferKind = "contribution"
	TransferKindPayout       TransferKind = "payout"
)

// Allows reports whether value of this kind may move from a from-account to a
// to-account. Contributions go user to vault, payouts vault to user.
func (k TransferKind) Allows(from, to AccountKind) bool {
	switch k {
	case TransferKindContribution:
		return from == AccountKindUser && to == AccountKindVault
	case TransferKindPayout:
		return from == AccountKindVault && to == AccountKindUser
	}
	return false
}

// Transfer represents one completed movement of value.
type Transfer struct {
	ID            int64        `json:"id"`
	PoolID        string       `json:"pool_id"`
	Kind          TransferKind `json:"kind"`
	FromAccountID string       `json:"from_account_id"`
	ToAccountID   string       `json:"to_account_id"`
	Amount        int64        `json:"amount"`
	CreatedAt     time.Time    `json:"created_at"`
}

// LedgerEntry represents one leg of a double-entry transaction.
// The sum of Deltas for a given TransferID must always equal 0.
type LedgerEntry struct {
	ID         int64     `json:"id"`
	TransferID int64     `json:"transfer_id"`
	AccountID  string    `json:"account_id"`
	Delta      int64     `json:"delta"`
	CreatedAt  time.Time `json:"created_at"`
}
