package domain

import "errors"

// Ledger-level failures shared by every store implementation.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrPoolNotFound      = errors.New("pool not found")
	ErrPoolExists        = errors.New("pool already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance overflow")
	ErrAccountKind       = errors.New("account kind not allowed for this operation")
)
