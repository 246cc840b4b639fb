package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/teampool/internal/domain"
	"github.com/punchamoorthee/teampool/internal/events"
)

// Policy toggles the stricter variants of the pool rules.
type Policy struct {
	// UniqueMembers rejects a second join by the same account.
	UniqueMembers bool
	// StrictClose only lets Open or Full pools be closed.
	StrictClose bool
	// StrictPayout requires a Full or Closed pool and caps the amount at the vault balance.
	StrictPayout bool
	// MaxMembersLimit bounds max_members at creation. Zero means unbounded.
	MaxMembersLimit uint32
}

func DefaultPolicy() Policy {
	return Policy{UniqueMembers: true, MaxMembersLimit: 256}
}

// CreatePoolRequest carries the create arguments. Amounts are minor units.
type CreatePoolRequest struct {
	Creator    string
	MaxMembers uint32
	Price      int64
	Privacy    domain.Privacy
	PoolCode   string
}

// PayoutResult reports what a payout actually moved.
type PayoutResult struct {
	Pool   *domain.Pool
	Vault  *domain.Vault
	Amount int64
}

// PoolService validates and applies pool operations against the ledger.
type PoolService struct {
	ledger  Ledger
	emitter events.Emitter
	policy  Policy
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewPoolService(ledger Ledger, emitter events.Emitter, policy Policy, log logrus.FieldLogger) *PoolService {
	if emitter == nil {
		emitter = events.Nop{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PoolService{
		ledger:  ledger,
		emitter: emitter,
		policy:  policy,
		log:     log,
		now:     time.Now,
	}
}

// Policy returns the rules the service was built with.
func (s *PoolService) Policy() Policy {
	return s.policy
}

// CreatePool opens a pool owned by req.Creator together with its vault.
func (s *PoolService) CreatePool(ctx context.Context, req CreatePoolRequest) (*domain.Pool, *domain.Vault, error) {
	if req.Creator == "" {
		return nil, nil, ErrUnauthorized
	}
	if req.MaxMembers == 0 {
		return nil, nil, ErrInvalidNumberOfMaxMembers
	}
	if s.policy.MaxMembersLimit > 0 && req.MaxMembers > s.policy.MaxMembersLimit {
		return nil, nil, fmt.Errorf("%w: %d exceeds limit %d", ErrInvalidNumberOfMaxMembers, req.MaxMembers, s.policy.MaxMembersLimit)
	}
	if req.Price < 0 {
		return nil, nil, ErrInvalidPrice
	}
	if !req.Privacy.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidPrivacy, req.Privacy)
	}

	code := req.PoolCode
	if req.Privacy == domain.PrivacyPrivate && code == "" {
		return nil, nil, ErrPoolCodeRequired
	}
	if req.Privacy == domain.PrivacyPublic {
		code = ""
	}

	perMember, err := pricePerMember(req.Price, req.MaxMembers)
	if err != nil {
		return nil, nil, err
	}

	// Payouts credit the creator, so the account must exist.
	if _, err := s.userAccount(ctx, req.Creator); err != nil {
		return nil, nil, fmt.Errorf("open creator account: %w", err)
	}

	seq, err := s.ledger.NextSequence(ctx, req.Creator)
	if err != nil {
		return nil, nil, fmt.Errorf("allocate pool sequence: %w", err)
	}

	now := s.now().UTC()
	poolID := PoolID(req.Creator, seq)
	pool := &domain.Pool{
		ID:             poolID,
		Creator:        req.Creator,
		Sequence:       seq,
		Members:        []string{},
		MaxMembers:     req.MaxMembers,
		Price:          req.Price,
		PricePerMember: perMember,
		Status:         domain.PoolStatusOpen,
		Privacy:        req.Privacy,
		PoolCode:       code,
		VaultID:        VaultID(poolID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	vault := &domain.Vault{
		ID:        pool.VaultID,
		PoolID:    poolID,
		Authority: req.Creator,
		UpdatedAt: now,
	}

	if err := s.ledger.CreatePool(ctx, pool, vault); err != nil {
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"pool_id":     pool.ID,
		"creator":     pool.Creator,
		"max_members": pool.MaxMembers,
		"price":       pool.Price,
		"privacy":     pool.Privacy,
	}).Info("pool created")

	s.emitter.Emit(ctx, domain.Event{
		Type:       domain.EventPoolCreated,
		PoolID:     pool.ID,
		Creator:    pool.Creator,
		MaxMembers: pool.MaxMembers,
		Price:      pool.Price,
		Privacy:    pool.Privacy,
		At:         now,
	})
	return pool, vault, nil
}

// JoinPool admits member into the pool and moves one share into the vault.
func (s *PoolService) JoinPool(ctx context.Context, poolID, member, code string) (*domain.Pool, *domain.Vault, error) {
	if member == "" {
		return nil, nil, ErrUnauthorized
	}
	// Zero-price joins move nothing, so the kind is checked here as well as
	// by the transfer.
	acc, err := s.ledger.GetAccount(ctx, member)
	if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, nil, err
	}
	if acc != nil && acc.Kind != domain.AccountKindUser {
		return nil, nil, fmt.Errorf("%w: %s cannot join pools", domain.ErrAccountKind, member)
	}

	var pool *domain.Pool
	var vault *domain.Vault
	err = s.ledger.UpdatePool(ctx, poolID, func(ctx context.Context, tx Tx) error {
		p, v := tx.Pool(), tx.Vault()
		if err := s.checkJoin(p, member, code); err != nil {
			return err
		}

		share := p.PricePerMember
		balance, ok := addInt64(v.Amount, share)
		if !ok {
			return ErrOverflow
		}
		if share > 0 {
			if err := tx.Transfer(ctx, domain.TransferKindContribution, member, v.ID, share); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		p.Members = append(p.Members, member)
		if uint32(len(p.Members)) == p.MaxMembers {
			p.Status = domain.PoolStatusFull
		}
		p.Vault = balance
		p.UpdatedAt = now
		v.Amount = balance
		v.UpdatedAt = now

		if err := tx.Save(ctx, p, v); err != nil {
			return err
		}
		pool, vault = p, v
		return nil
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"pool_id": poolID, "member": member}).
			WithError(err).Debug("join rejected")
		return nil, nil, err
	}

	s.log.WithFields(logrus.Fields{
		"pool_id": pool.ID,
		"member":  member,
		"members": len(pool.Members),
		"status":  pool.Status,
	}).Info("member joined")

	s.emitter.Emit(ctx, domain.Event{Type: domain.EventMemberJoined, PoolID: pool.ID, Member: member, At: pool.UpdatedAt})
	s.emitter.Emit(ctx, domain.Event{Type: domain.EventVaultUpdated, PoolID: pool.ID, Amount: vault.Amount, At: vault.UpdatedAt})
	return pool, vault, nil
}

func (s *PoolService) checkJoin(p *domain.Pool, member, code string) error {
	switch p.Status {
	case domain.PoolStatusOpen:
	case domain.PoolStatusFull:
		// Matches both sentinels: a Full pool is at capacity and not Open.
		return fmt.Errorf("%w: %w", ErrPoolNotOpen, ErrPoolFull)
	case domain.PoolStatusClosed, domain.PoolStatusCanceled:
		return fmt.Errorf("%w: status %s", ErrPoolNotOpen, p.Status)
	default:
		return fmt.Errorf("pool %s has unknown status %q", p.ID, p.Status)
	}
	if uint32(len(p.Members)) >= p.MaxMembers {
		return ErrPoolFull
	}

	switch p.Privacy {
	case domain.PrivacyPrivate:
		if code == "" {
			return ErrPoolCodeRequired
		}
		if subtle.ConstantTimeCompare([]byte(code), []byte(p.PoolCode)) != 1 {
			return ErrWrongPoolCode
		}
	case domain.PrivacyPublic:
	default:
		return fmt.Errorf("pool %s has unknown privacy %q", p.ID, p.Privacy)
	}

	if s.policy.UniqueMembers && p.HasMember(member) {
		return ErrAlreadyMember
	}
	return nil
}

// ClosePool marks the pool Closed. Only the creator may close it.
func (s *PoolService) ClosePool(ctx context.Context, poolID, caller string) (*domain.Pool, error) {
	var pool *domain.Pool
	err := s.ledger.UpdatePool(ctx, poolID, func(ctx context.Context, tx Tx) error {
		p := tx.Pool()
		if caller == "" || p.Creator != caller {
			return ErrUnauthorized
		}
		if s.policy.StrictClose {
			switch p.Status {
			case domain.PoolStatusOpen, domain.PoolStatusFull:
			case domain.PoolStatusClosed, domain.PoolStatusCanceled:
				return fmt.Errorf("%w: status %s", ErrPoolNotClosable, p.Status)
			default:
				return fmt.Errorf("pool %s has unknown status %q", p.ID, p.Status)
			}
		}

		p.Status = domain.PoolStatusClosed
		p.UpdatedAt = s.now().UTC()
		if err := tx.Save(ctx, p, tx.Vault()); err != nil {
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"pool_id": pool.ID, "creator": caller}).Info("pool closed")
	s.emitter.Emit(ctx, domain.Event{Type: domain.EventPoolClosed, PoolID: pool.ID, Creator: pool.Creator, At: pool.UpdatedAt})
	return pool, nil
}

// Payout moves amount from the vault to the creator.
func (s *PoolService) Payout(ctx context.Context, poolID, caller string, amount int64) (*PayoutResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var res *PayoutResult
	err := s.ledger.UpdatePool(ctx, poolID, func(ctx context.Context, tx Tx) error {
		p, v := tx.Pool(), tx.Vault()
		if caller == "" || p.Creator != caller || v.Authority != caller {
			return ErrUnauthorized
		}

		paid := amount
		if s.policy.StrictPayout {
			switch p.Status {
			case domain.PoolStatusFull, domain.PoolStatusClosed:
			case domain.PoolStatusOpen, domain.PoolStatusCanceled:
				return fmt.Errorf("%w: status %s", ErrPayoutNotAllowed, p.Status)
			default:
				return fmt.Errorf("pool %s has unknown status %q", p.ID, p.Status)
			}
			if paid > v.Amount {
				paid = v.Amount
			}
			if paid == 0 {
				return domain.ErrInsufficientFunds
			}
		}

		paidOut, ok := addInt64(v.PaidOut, paid)
		if !ok {
			return ErrOverflow
		}
		if err := tx.Transfer(ctx, domain.TransferKindPayout, v.ID, p.Creator, paid); err != nil {
			return err
		}

		now := s.now().UTC()
		v.Amount -= paid
		v.PaidOut = paidOut
		v.UpdatedAt = now
		p.Vault = v.Amount
		p.UpdatedAt = now
		if err := tx.Save(ctx, p, v); err != nil {
			return err
		}
		res = &PayoutResult{Pool: p, Vault: v, Amount: paid}
		return nil
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"pool_id": poolID, "caller": caller, "amount": amount}).
			WithError(err).Debug("payout rejected")
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"pool_id": res.Pool.ID,
		"amount":  res.Amount,
		"vault":   res.Vault.Amount,
	}).Info("payout completed")
	s.emitter.Emit(ctx, domain.Event{Type: domain.EventVaultUpdated, PoolID: res.Pool.ID, Amount: res.Vault.Amount, At: res.Vault.UpdatedAt})
	return res, nil
}

func (s *PoolService) GetPool(ctx context.Context, poolID string) (*domain.Pool, error) {
	return s.ledger.GetPool(ctx, poolID)
}

func (s *PoolService) GetVault(ctx context.Context, poolID string) (*domain.Vault, error) {
	return s.ledger.GetVault(ctx, poolID)
}

func (s *PoolService) ListPools(ctx context.Context, creator string) ([]*domain.Pool, error) {
	return s.ledger.ListPools(ctx, creator)
}

// OpenAccount returns the caller's account, creating an empty one if needed.
func (s *PoolService) OpenAccount(ctx context.Context, id string) (*domain.Account, error) {
	if id == "" {
		return nil, ErrUnauthorized
	}
	return s.userAccount(ctx, id)
}

func (s *PoolService) userAccount(ctx context.Context, id string) (*domain.Account, error) {
	acc, err := s.ledger.CreateAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acc.Kind != domain.AccountKindUser {
		return nil, fmt.Errorf("%w: %s is a %s account", domain.ErrAccountKind, id, acc.Kind)
	}
	return acc, nil
}

func (s *PoolService) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.ledger.GetAccount(ctx, id)
}

// ListTransfers returns the contributions and payouts recorded for a pool.
func (s *PoolService) ListTransfers(ctx context.Context, poolID string) ([]domain.Transfer, error) {
	return s.ledger.ListTransfers(ctx, poolID)
}

func (s *PoolService) ListEntries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error) {
	return s.ledger.ListEntries(ctx, accountID)
}

// FundingEnabled reports whether the ledger can mint balances.
func (s *PoolService) FundingEnabled() bool {
	_, ok := s.ledger.(Funder)
	return ok
}

// Fund credits amount to a user account. It is only served by ledgers that
// implement Funder and exists for local development.
func (s *PoolService) Fund(ctx context.Context, id string, amount int64) (*domain.Account, error) {
	if id == "" {
		return nil, ErrUnauthorized
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	f, ok := s.ledger.(Funder)
	if !ok {
		return nil, ErrFundingDisabled
	}
	acc, err := f.Credit(ctx, id, amount)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"account": id, "amount": amount, "balance": acc.Balance}).Warn("account funded")
	return acc, nil
}

// pricePerMember splits price evenly across slots, rounding toward zero.
// The remainder is never collected.
func pricePerMember(price int64, maxMembers uint32) (int64, error) {
	if maxMembers == 0 {
		return 0, ErrDivisionByZero
	}
	return price / int64(maxMembers), nil
}

func addInt64(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, false
	}
	return a + b, true
}
