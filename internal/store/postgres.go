package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/teampool/internal/domain"
	"github.com/punchamoorthee/teampool/internal/service"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	defaultMaxRetries = 3
)

// PostgresStore keeps pools, vaults and balances in Postgres. A unit of work
// holds a row lock on the pool for its whole duration.
type PostgresStore struct {
	db         *pgxpool.Pool
	maxRetries int
}

var _ service.Ledger = (*PostgresStore)(nil)

// Connect opens and pings a connection pool.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, maxRetries: defaultMaxRetries}
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func (s *PostgresStore) NextSequence(ctx context.Context, creator string) (uint64, error) {
	var seq int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO creator_sequences (creator, next_seq) VALUES ($1, 1)
		ON CONFLICT (creator) DO UPDATE SET next_seq = creator_sequences.next_seq + 1
		RETURNING next_seq - 1`, creator).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sequence upsert failed: %w", err)
	}
	return uint64(seq), nil
}

func (s *PostgresStore) CreatePool(ctx context.Context, pool *domain.Pool, vault *domain.Vault) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"INSERT INTO accounts (id, kind, balance, created_at) VALUES ($1, $2, $3, $4)",
		vault.ID, string(domain.AccountKindVault), vault.Amount, pool.CreatedAt,
	)
	if err != nil {
		return mapInsertErr(err, "vault account insert failed")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pools (id, creator, sequence, members, max_members, price, price_per_member,
			status, privacy, pool_code, vault, vault_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		pool.ID, pool.Creator, int64(pool.Sequence), pool.Members, int64(pool.MaxMembers),
		pool.Price, pool.PricePerMember, string(pool.Status), string(pool.Privacy), pool.PoolCode,
		pool.Vault, pool.VaultID, pool.CreatedAt, pool.UpdatedAt,
	)
	if err != nil {
		return mapInsertErr(err, "pool insert failed")
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO vaults (id, pool_id, authority, paid_out, updated_at) VALUES ($1, $2, $3, $4, $5)",
		vault.ID, vault.PoolID, vault.Authority, vault.PaidOut, vault.UpdatedAt,
	)
	if err != nil {
		return mapInsertErr(err, "vault insert failed")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// UpdatePool runs fn inside a transaction holding the pool row lock. Deadlocks
// and serialization failures are retried; fn may therefore run more than once.
func (s *PostgresStore) UpdatePool(ctx context.Context, poolID string, fn func(context.Context, service.Tx) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.updatePool(ctx, poolID, fn)
		if !isRetryable(err) {
			return err
		}
	}
	return err
}

func (s *PostgresStore) updatePool(ctx context.Context, poolID string, fn func(context.Context, service.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	pool, err := scanPool(tx.QueryRow(ctx, selectPool+" WHERE id = $1 FOR UPDATE", poolID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrPoolNotFound
		}
		return fmt.Errorf("lock acquisition failed: %w", err)
	}
	vault, err := scanVault(tx.QueryRow(ctx, selectVault+" WHERE v.pool_id = $1", poolID))
	if err != nil {
		return fmt.Errorf("vault load failed: %w", err)
	}

	if err := fn(ctx, &pgTx{tx: tx, pool: pool, vault: vault}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPool(ctx context.Context, poolID string) (*domain.Pool, error) {
	pool, err := scanPool(s.db.QueryRow(ctx, selectPool+" WHERE id = $1", poolID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPoolNotFound
	}
	return pool, err
}

func (s *PostgresStore) GetVault(ctx context.Context, poolID string) (*domain.Vault, error) {
	vault, err := scanVault(s.db.QueryRow(ctx, selectVault+" WHERE v.pool_id = $1", poolID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPoolNotFound
	}
	return vault, err
}

func (s *PostgresStore) ListPools(ctx context.Context, creator string) ([]*domain.Pool, error) {
	rows, err := s.db.Query(ctx, selectPool+" WHERE creator = $1 ORDER BY sequence", creator)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pools := []*domain.Pool{}
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) CreateAccount(ctx context.Context, id string) (*domain.Account, error) {
	_, err := s.db.Exec(ctx,
		"INSERT INTO accounts (id, kind, balance) VALUES ($1, $2, 0) ON CONFLICT (id) DO NOTHING",
		id, string(domain.AccountKindUser),
	)
	if err != nil {
		return nil, fmt.Errorf("account insert failed: %w", err)
	}
	return s.GetAccount(ctx, id)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var acc domain.Account
	var kind string
	err := s.db.QueryRow(ctx,
		"SELECT id, kind, balance, created_at FROM accounts WHERE id = $1", id,
	).Scan(&acc.ID, &kind, &acc.Balance, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	acc.Kind = domain.AccountKind(kind)
	return &acc, nil
}

// ListTransfers returns the transfers recorded against a pool, oldest first.
func (s *PostgresStore) ListTransfers(ctx context.Context, poolID string) ([]domain.Transfer, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pools WHERE id = $1)", poolID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrPoolNotFound
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, pool_id, kind, from_account_id, to_account_id, amount, created_at
		FROM transfers WHERE pool_id = $1 ORDER BY id`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := []domain.Transfer{}
	for rows.Next() {
		var tr domain.Transfer
		var kind string
		if err := rows.Scan(&tr.ID, &tr.PoolID, &kind, &tr.FromAccountID, &tr.ToAccountID, &tr.Amount, &tr.CreatedAt); err != nil {
			return nil, err
		}
		tr.Kind = domain.TransferKind(kind)
		transfers = append(transfers, tr)
	}
	return transfers, rows.Err()
}

// ListEntries returns the ledger entries posted to an account, newest first.
func (s *PostgresStore) ListEntries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", accountID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrAccountNotFound
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, transfer_id, account_id, delta, created_at
		FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TransferID, &e.AccountID, &e.Delta, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type pgTx struct {
	tx    pgx.Tx
	pool  *domain.Pool
	vault *domain.Vault
}

func (t *pgTx) Pool() *domain.Pool   { return t.pool.Clone() }
func (t *pgTx) Vault() *domain.Vault { return t.vault.Clone() }

// Transfer locks both accounts in id order so concurrent transfers touching
// the same pair cannot deadlock.
func (t *pgTx) Transfer(ctx context.Context, kind domain.TransferKind, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	if from == to {
		return fmt.Errorf("transfer to self: %s", from)
	}

	first, second := from, to
	if first > second {
		first, second = second, first
	}

	balances := make(map[string]int64, 2)
	kinds := make(map[string]domain.AccountKind, 2)
	for _, id := range []string{first, second} {
		var balance int64
		var accKind string
		err := t.tx.QueryRow(ctx, "SELECT kind, balance FROM accounts WHERE id = $1 FOR UPDATE", id).Scan(&accKind, &balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
			}
			return fmt.Errorf("lock acquisition failed: %w", err)
		}
		balances[id] = balance
		kinds[id] = domain.AccountKind(accKind)
	}

	if !kind.Allows(kinds[from], kinds[to]) {
		return fmt.Errorf("%w: %s from %s account %s to %s account %s",
			domain.ErrAccountKind, kind, kinds[from], from, kinds[to], to)
	}
	if balances[from] < amount {
		return domain.ErrInsufficientFunds
	}
	if balances[to] > math.MaxInt64-amount {
		return domain.ErrBalanceOverflow
	}

	var transferID int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transfers (pool_id, kind, from_account_id, to_account_id, amount)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		t.pool.ID, string(kind), from, to, amount,
	).Scan(&transferID)
	if err != nil {
		return fmt.Errorf("transfer insert failed: %w", err)
	}

	_, err = t.tx.Exec(ctx,
		"INSERT INTO ledger_entries (transfer_id, account_id, delta) VALUES ($1, $2, $3), ($1, $4, $5)",
		transferID, from, -amount, to, amount,
	)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}

	if _, err := t.tx.Exec(ctx, "UPDATE accounts SET balance = balance - $1 WHERE id = $2", amount, from); err != nil {
		return fmt.Errorf("debit failed: %w", err)
	}
	if _, err := t.tx.Exec(ctx, "UPDATE accounts SET balance = balance + $1 WHERE id = $2", amount, to); err != nil {
		return fmt.Errorf("credit failed: %w", err)
	}
	return nil
}

func (t *pgTx) Save(ctx context.Context, pool *domain.Pool, vault *domain.Vault) error {
	if pool.ID != t.pool.ID || vault.ID != t.vault.ID {
		return fmt.Errorf("save: records do not belong to pool %s", t.pool.ID)
	}

	var custody int64
	if err := t.tx.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1", vault.ID).Scan(&custody); err != nil {
		return fmt.Errorf("custody read failed: %w", err)
	}
	if custody != vault.Amount {
		return fmt.Errorf("save: vault %s records %d but custody holds %d", vault.ID, vault.Amount, custody)
	}

	_, err := t.tx.Exec(ctx,
		"UPDATE pools SET members = $2, status = $3, vault = $4, updated_at = $5 WHERE id = $1",
		pool.ID, pool.Members, string(pool.Status), pool.Vault, pool.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pool update failed: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		"UPDATE vaults SET paid_out = $2, updated_at = $3 WHERE id = $1",
		vault.ID, vault.PaidOut, vault.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("vault update failed: %w", err)
	}

	t.pool = pool.Clone()
	t.vault = vault.Clone()
	return nil
}

const selectPool = `SELECT id, creator, sequence, members, max_members, price, price_per_member,
	status, privacy, pool_code, vault, vault_id, created_at, updated_at FROM pools`

const selectVault = `SELECT v.id, v.pool_id, v.authority, a.balance, v.paid_out, v.updated_at
	FROM vaults v JOIN accounts a ON a.id = v.id`

func scanPool(row pgx.Row) (*domain.Pool, error) {
	var p domain.Pool
	var seq, maxMembers int64
	var status, privacy string
	err := row.Scan(&p.ID, &p.Creator, &seq, &p.Members, &maxMembers, &p.Price, &p.PricePerMember,
		&status, &privacy, &p.PoolCode, &p.Vault, &p.VaultID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Sequence = uint64(seq)
	p.MaxMembers = uint32(maxMembers)
	p.Status = domain.PoolStatus(status)
	if !p.Status.Valid() {
		return nil, fmt.Errorf("pool %s: unknown status %q", p.ID, status)
	}
	p.Privacy = domain.Privacy(privacy)
	if !p.Privacy.Valid() {
		return nil, fmt.Errorf("pool %s: unknown privacy %q", p.ID, privacy)
	}
	if p.Members == nil {
		p.Members = []string{}
	}
	return &p, nil
}

func scanVault(row pgx.Row) (*domain.Vault, error) {
	var v domain.Vault
	if err := row.Scan(&v.ID, &v.PoolID, &v.Authority, &v.Amount, &v.PaidOut, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func mapInsertErr(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return domain.ErrPoolExists
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}
