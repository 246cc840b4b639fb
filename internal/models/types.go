package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// CreatePoolRequest is the payload for opening a pool. Price is in whole units.
type CreatePoolRequest struct {
	MaxMembers uint32          `json:"max_members"`
	Price      decimal.Decimal `json:"price"`
	Privacy    string          `json:"privacy"`
	PoolCode   string          `json:"pool_code,omitempty"`
}

// JoinPoolRequest carries the access code for private pools.
type JoinPoolRequest struct {
	PoolCode string `json:"pool_code,omitempty"`
}

// PayoutRequest asks to withdraw Amount whole units from the vault.
type PayoutRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Pool is the public view of a pool. The access code is never exposed.
type Pool struct {
	ID             string          `json:"id"`
	Creator        string          `json:"creator"`
	Members        []string        `json:"members"`
	MaxMembers     uint32          `json:"max_members"`
	Price          decimal.Decimal `json:"price"`
	PricePerMember decimal.Decimal `json:"price_per_member"`
	Status         string          `json:"status"`
	Privacy        string          `json:"privacy"`
	Vault          decimal.Decimal `json:"vault"`
	VaultID        string          `json:"vault_id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Vault struct {
	ID        string          `json:"id"`
	PoolID    string          `json:"pool_id"`
	Authority string          `json:"authority"`
	Amount    decimal.Decimal `json:"amount"`
	PaidOut   decimal.Decimal `json:"paid_out"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Account struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Balance decimal.Decimal `json:"balance"`
}

// FundRequest mints Amount whole units into the caller's account. Development only.
type FundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Transfer is one contribution or payout recorded against a pool.
type Transfer struct {
	ID            int64           `json:"id"`
	PoolID        string          `json:"pool_id"`
	Kind          string          `json:"kind"`
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

type LedgerEntry struct {
	ID         int64           `json:"id"`
	TransferID int64           `json:"transfer_id"`
	AccountID  string          `json:"account_id"`
	Delta      decimal.Decimal `json:"delta"`
	CreatedAt  time.Time       `json:"created_at"`
}

// PoolResponse is returned by create and join.
type PoolResponse struct {
	Pool  Pool  `json:"pool"`
	Vault Vault `json:"vault"`
}

type PayoutResponse struct {
	Pool   Pool            `json:"pool"`
	Vault  Vault           `json:"vault"`
	Amount decimal.Decimal `json:"amount"`
}

// IdempotencyRecord holds the state of a request key.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	Status         string
	ResponseBody   json.RawMessage
	ResponseStatus int
}
