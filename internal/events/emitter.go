// Package events delivers best-effort notifications about committed pool changes.
package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/teampool/internal/domain"
)

// Emitter publishes events. Emit must not block for long and never fails the caller.
type Emitter interface {
	Emit(ctx context.Context, ev domain.Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Emit(context.Context, domain.Event) {}

// Multi fans an event out to several emitters in order.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev domain.Event) {
	for _, e := range m {
		e.Emit(ctx, ev)
	}
}

// LogEmitter writes events as structured log entries.
type LogEmitter struct {
	log logrus.FieldLogger
}

func NewLogEmitter(log logrus.FieldLogger) *LogEmitter {
	return &LogEmitter{log: log}
}

func (e *LogEmitter) Emit(_ context.Context, ev domain.Event) {
	fields := logrus.Fields{
		"event":   ev.Type,
		"pool_id": ev.PoolID,
	}
	switch ev.Type {
	case domain.EventPoolCreated:
		fields["creator"] = ev.Creator
		fields["max_members"] = ev.MaxMembers
		fields["price"] = ev.Price
		fields["privacy"] = ev.Privacy
	case domain.EventMemberJoined:
		fields["member"] = ev.Member
	case domain.EventVaultUpdated:
		fields["amount"] = ev.Amount
	case domain.EventPoolClosed:
		fields["creator"] = ev.Creator
	}
	e.log.WithFields(fields).Info("pool event")
}

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "teampool_events_total",
	Help: "Pool events emitted after commit, labeled by type",
}, []string{"type"})

var vaultBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "teampool_vault_balance",
	Help: "Last reported vault balance in minor units",
}, []string{"pool_id"})

// MetricsEmitter counts events and tracks vault balances.
type MetricsEmitter struct{}

func (MetricsEmitter) Emit(_ context.Context, ev domain.Event) {
	eventsTotal.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type == domain.EventVaultUpdated {
		vaultBalance.WithLabelValues(ev.PoolID).Set(float64(ev.Amount))
	}
}
