package api

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/punchamoorthee/teampool/internal/models"
)

var (
	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
)

const (
	idemInProgress = "in_progress"
	idemCompleted  = "completed"
)

// IdempotencyCache remembers completed responses per key so retried requests
// replay the first outcome instead of running again.
type IdempotencyCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *models.IdempotencyRecord]
}

func NewIdempotencyCache(size int) (*IdempotencyCache, error) {
	cache, err := lru.New[string, *models.IdempotencyRecord](size)
	if err != nil {
		return nil, err
	}
	return &IdempotencyCache{cache: cache}, nil
}

// Reserve claims key for a request with the given body hash. It returns the
// stored record when the key already completed.
func (c *IdempotencyCache) Reserve(key, hash string) (*models.IdempotencyRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.cache.Get(key); ok {
		if rec.RequestHash != hash {
			return nil, ErrIdempotencyMismatch
		}
		if rec.Status == idemInProgress {
			return nil, ErrIdempotencyConflict
		}
		replay := *rec
		return &replay, nil
	}

	c.cache.Add(key, &models.IdempotencyRecord{Key: key, RequestHash: hash, Status: idemInProgress})
	return nil, nil
}

func (c *IdempotencyCache) Complete(key string, status int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.cache.Get(key)
	if !ok {
		return
	}
	rec.Status = idemCompleted
	rec.ResponseStatus = status
	rec.ResponseBody = body
}

// Release forgets a reservation whose request failed so it can be retried.
func (c *IdempotencyCache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(key)
}
