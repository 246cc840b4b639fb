package main

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/teampool/internal/store"
)

func TestSeedRows(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := seedRows("member", 3, 500, now)
	require.Len(t, rows, 3)
	assert.Equal(t, []interface{}{"member-0000", "user", int64(500), now}, rows[0])
	assert.Equal(t, "member-0002", rows[2][0])

	assert.Empty(t, seedRows("member", 0, 500, now))
}

func TestSeedAccounts_CompletesPartialRun(t *testing.T) {
	dsn := os.Getenv("TEST_DB_SOURCE")
	if dsn == "" {
		t.Skip("TEST_DB_SOURCE not set")
	}
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx, dsn))
	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(ctx) })

	prefix := fmt.Sprintf("seedtest%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = conn.Exec(ctx, "DELETE FROM accounts WHERE id LIKE $1", prefix+"-%")
	})

	inserted, err := seedAccounts(ctx, conn, prefix, 3, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(3), inserted)

	// Spend from one seeded account so a rerun can be seen not to reset it.
	_, err = conn.Exec(ctx, "UPDATE accounts SET balance = 40 WHERE id = $1", AccountID(prefix, 1))
	require.NoError(t, err)

	inserted, err = seedAccounts(ctx, conn, prefix, 5, 100)
	require.NoError(t, err, "a larger rerun must not fail on the ids already present")
	assert.Equal(t, int64(2), inserted)

	inserted, err = seedAccounts(ctx, conn, prefix, 5, 100)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	var count int
	require.NoError(t, conn.QueryRow(ctx, "SELECT COUNT(*) FROM accounts WHERE id LIKE $1", prefix+"-%").Scan(&count))
	assert.Equal(t, 5, count)

	var balance int64
	require.NoError(t, conn.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1", AccountID(prefix, 1)).Scan(&balance))
	assert.Equal(t, int64(40), balance)
}
