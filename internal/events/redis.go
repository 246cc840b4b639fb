package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/teampool/internal/domain"
)

const (
	DefaultChannel = "teampool:events"

	defaultRedisBuffer  = 256
	defaultRedisTimeout = 2 * time.Second
)

// RedisEmitter publishes events as JSON on a Redis pub/sub channel. Emit only
// enqueues; a single worker publishes in order, so a slow or unreachable Redis
// never holds up the caller. Events are dropped when the queue is full.
type RedisEmitter struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
	log     logrus.FieldLogger

	mu      sync.RWMutex
	closed  bool
	queue   chan domain.Event
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

// NewRedisEmitter parses url (redis://...) and returns an emitter publishing to channel.
func NewRedisEmitter(url, channel string, log logrus.FieldLogger) (*RedisEmitter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisEmitterWithClient(redis.NewClient(opts), channel, log), nil
}

func NewRedisEmitterWithClient(client redis.UniversalClient, channel string, log logrus.FieldLogger) *RedisEmitter {
	return newRedisEmitter(client, channel, log, defaultRedisBuffer, defaultRedisTimeout)
}

func newRedisEmitter(client redis.UniversalClient, channel string, log logrus.FieldLogger, buffer int, timeout time.Duration) *RedisEmitter {
	if channel == "" {
		channel = DefaultChannel
	}
	e := &RedisEmitter{
		client:  client,
		channel: channel,
		timeout: timeout,
		log:     log,
		queue:   make(chan domain.Event, buffer),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Emit never blocks.
func (e *RedisEmitter) Emit(_ context.Context, ev domain.Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.queue <- ev:
	default:
		if n := e.dropped.Add(1); n == 1 || n%100 == 0 {
			e.log.WithFields(logrus.Fields{
				"event":   ev.Type,
				"pool_id": ev.PoolID,
				"dropped": n,
			}).Warn("event queue full, dropping event")
		}
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (e *RedisEmitter) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *RedisEmitter) run() {
	defer e.wg.Done()
	for ev := range e.queue {
		e.publish(ev)
	}
}

func (e *RedisEmitter) publish(ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.WithError(err).Warn("encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.client.Publish(ctx, e.channel, payload).Err(); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"event":   ev.Type,
			"pool_id": ev.PoolID,
		}).Warn("publish event")
	}
}

// Close stops accepting events, drains the queue and closes the client.
func (e *RedisEmitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	e.wg.Wait()
	return e.client.Close()
}
