package service

import (
	"strconv"

	"github.com/google/uuid"
)

// poolNamespace seeds the name-based UUIDs of pools and vaults.
var poolNamespace = uuid.MustParse("6f1c2a4e-3b5d-5e7f-9a1b-2c3d4e5f6a7b")

// PoolID derives the identifier of the seq-th pool opened by creator.
func PoolID(creator string, seq uint64) string {
	return uuid.NewSHA1(poolNamespace, []byte(creator+":"+strconv.FormatUint(seq, 10))).String()
}

// VaultID derives the custody account identifier of a pool.
func VaultID(poolID string) string {
	return uuid.NewSHA1(poolNamespace, []byte(poolID+":vault")).String()
}
