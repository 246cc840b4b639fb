package service

import (
	"errors"

	"github.com/punchamoorthee/teampool/internal/domain"
)

var (
	ErrInvalidNumberOfMaxMembers = errors.New("invalid number of max members")
	ErrInvalidPrice              = errors.New("price must not be negative")
	ErrInvalidPrivacy            = errors.New("invalid privacy")
	ErrInvalidAmount             = errors.New("amount must be positive")
	ErrPoolCodeRequired          = errors.New("pool code required")
	ErrWrongPoolCode             = errors.New("wrong pool code")
	ErrDivisionByZero            = errors.New("division by zero")
	ErrOverflow                  = errors.New("arithmetic overflow")

	ErrPoolNotOpen      = errors.New("pool is not open")
	ErrPoolFull         = errors.New("pool is full")
	ErrAlreadyMember    = errors.New("account already holds a slot in this pool")
	ErrPoolNotClosable  = errors.New("pool cannot be closed in its current status")
	ErrPayoutNotAllowed = errors.New("payout not allowed in current pool status")

	ErrUnauthorized    = errors.New("caller is not the pool creator")
	ErrFundingDisabled = errors.New("funding is not available on this ledger")
)

// Kind groups errors by how a caller should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuthorization
	KindResource
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuthorization:
		return "authorization"
	case KindResource:
		return "resource"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidNumberOfMaxMembers),
		errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrInvalidPrivacy),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrPoolCodeRequired),
		errors.Is(err, ErrWrongPoolCode),
		errors.Is(err, ErrDivisionByZero),
		errors.Is(err, ErrOverflow),
		errors.Is(err, domain.ErrBalanceOverflow):
		return KindValidation
	case errors.Is(err, ErrPoolNotOpen),
		errors.Is(err, ErrPoolFull),
		errors.Is(err, ErrAlreadyMember),
		errors.Is(err, ErrPoolNotClosable),
		errors.Is(err, ErrPayoutNotAllowed),
		errors.Is(err, domain.ErrPoolExists),
		errors.Is(err, ErrFundingDisabled):
		return KindConflict
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, domain.ErrAccountKind):
		return KindAuthorization
	case errors.Is(err, domain.ErrInsufficientFunds):
		return KindResource
	case errors.Is(err, domain.ErrPoolNotFound),
		errors.Is(err, domain.ErrAccountNotFound):
		return KindNotFound
	}
	return KindInternal
}
