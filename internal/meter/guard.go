// Package meter enforces fair-use limits on billing-metered operations.
// The authoritative balance lives with the billing provider; a shared
// reservation counter bounds how often it is consulted and serializes
// concurrent spends from the same tenant.
package meter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danielkov/hireloop/internal/billing"
	"github.com/danielkov/hireloop/internal/retry"

	"go.uber.org/zap"
)

const (
	// degradedCap is the conservative per-period allowance applied when the
	// billing provider is unreachable. Availability wins over strict
	// metering; the cap keeps the worst case bounded.
	degradedCap = 10

	degradedTTL = time.Hour
	minTTL      = time.Minute
)

// BalanceSource is the part of the billing provider the guard consumes.
type BalanceSource interface {
	GetBalance(ctx context.Context, tenant, meter string) (*billing.Balance, error)
	IngestUsageEvent(ctx context.Context, tenant, meter string, metadata map[string]string) error
}

// ReservationStore holds the shared per-tenant counters. Spend must be a
// single atomic decrement, never read-then-write; found reports whether a
// live counter existed at all, so the caller knows when to seed one.
type ReservationStore interface {
	Spend(ctx context.Context, key string) (remaining int, ok bool, found bool, err error)
	Seed(ctx context.Context, key string, seed int, ttl time.Duration) error
}

// AdminNotifier receives operational alerts, e.g. degraded-mode flips.
type AdminNotifier func(ctx context.Context, subject, detail string)

// Result is the outcome of a reservation attempt.
type Result struct {
	Allowed  bool
	Balance  int
	Degraded bool
}

type Guard struct {
	billing BalanceSource
	store   ReservationStore
	logger  *zap.Logger
	notify  AdminNotifier
	policy  retry.Policy

	mu       sync.Mutex
	alerted  map[string]time.Time
	pending  []usageEvent
}

type usageEvent struct {
	tenant   string
	meter    string
	metadata map[string]string
}

func NewGuard(logger *zap.Logger, source BalanceSource, store ReservationStore, notify AdminNotifier) *Guard {
	if notify == nil {
		notify = func(context.Context, string, string) {}
	}
	return &Guard{
		billing: source,
		store:   store,
		logger:  logger,
		notify:  notify,
		policy:  retry.DefaultPolicy(),
		alerted: make(map[string]time.Time),
	}
}

// CheckAndReserve reports whether the tenant may consume one unit of the
// named meter and decrements the shared counter when it may. A live counter
// is spent with a single store round trip; the billing provider is consulted
// only when no live counter exists yet. When the reservation store itself is
// unavailable the call fails open: a missed decrement is cheaper than
// refusing service.
func (g *Guard) CheckAndReserve(ctx context.Context, tenant, meter string) Result {
	key := reservationKey(tenant, meter)

	remaining, ok, found, err := g.store.Spend(ctx, key)
	if err != nil {
		return g.failOpen(tenant, meter, 0, false, err)
	}
	if found {
		return Result{Allowed: ok, Balance: remaining}
	}

	// First touch for this billing period: seed the counter from the remote
	// balance, then spend against the freshly seeded row.
	seed, ttl, degraded := g.seedBalance(ctx, tenant, meter)
	if err := g.store.Seed(ctx, key, seed, ttl); err != nil {
		return g.failOpen(tenant, meter, seed, degraded, err)
	}

	remaining, ok, _, err = g.store.Spend(ctx, key)
	if err != nil {
		return g.failOpen(tenant, meter, seed, degraded, err)
	}

	return Result{Allowed: ok, Balance: remaining, Degraded: degraded}
}

func (g *Guard) failOpen(tenant, meter string, balance int, degraded bool, cause error) Result {
	g.logger.Warn("reservation store unavailable, allowing operation",
		zap.String("tenant", tenant),
		zap.String("meter", meter),
		zap.Error(cause),
	)
	return Result{Allowed: true, Balance: balance, Degraded: degraded}
}

// seedBalance resolves the value used to seed the local counter on first
// touch. Remote lookup failure flips the guard to degraded mode with a
// conservative free-tier cap.
func (g *Guard) seedBalance(ctx context.Context, tenant, meter string) (seed int, ttl time.Duration, degraded bool) {
	var balance *billing.Balance
	err := retry.Do(ctx, g.logger, "billing.get_balance", g.policy, func(ctx context.Context) error {
		var err error
		balance, err = g.billing.GetBalance(ctx, tenant, meter)
		return err
	})
	if err != nil {
		g.alertDegraded(ctx, tenant, meter, err)
		return degradedCap, degradedTTL, true
	}

	ttl = time.Until(balance.ResetsAt)
	if ttl < minTTL {
		ttl = minTTL
	}

	return balance.Remaining, ttl, false
}

// RecordUsage reports one consumed unit to the billing provider. Failed
// reports are queued and flushed on the next call rather than dropped, so
// reconciliation eventually sees every unit.
func (g *Guard) RecordUsage(ctx context.Context, tenant, meter string, metadata map[string]string) {
	g.mu.Lock()
	queued := g.pending
	g.pending = nil
	g.mu.Unlock()

	events := append(queued, usageEvent{tenant: tenant, meter: meter, metadata: metadata})

	for _, event := range events {
		err := retry.Do(ctx, g.logger, "billing.ingest_usage", g.policy, func(ctx context.Context) error {
			return g.billing.IngestUsageEvent(ctx, event.tenant, event.meter, event.metadata)
		})
		if err != nil {
			g.logger.Warn("usage event not ingested, queued for retry",
				zap.String("tenant", event.tenant),
				zap.String("meter", event.meter),
				zap.Error(err),
			)
			g.mu.Lock()
			g.pending = append(g.pending, event)
			g.mu.Unlock()
		}
	}
}

// PendingUsageEvents reports how many usage events await re-delivery.
func (g *Guard) PendingUsageEvents() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// alertDegraded notifies the administrator channel, at most once per hour per
// counter, that metering fell back to the local cap.
func (g *Guard) alertDegraded(ctx context.Context, tenant, meter string, cause error) {
	g.logger.Warn("billing provider unreachable, degraded metering in effect",
		zap.String("tenant", tenant),
		zap.String("meter", meter),
		zap.Int("fallback_cap", degradedCap),
		zap.Error(cause),
	)

	key := reservationKey(tenant, meter)

	g.mu.Lock()
	last, seen := g.alerted[key]
	if seen && time.Since(last) < time.Hour {
		g.mu.Unlock()
		return
	}
	g.alerted[key] = time.Now()
	g.mu.Unlock()

	g.notify(ctx, "metering degraded",
		fmt.Sprintf("balance lookup for tenant %s meter %s failed: %v; falling back to local cap of %d", tenant, meter, cause, degradedCap))
}

func reservationKey(tenant, meter string) string {
	return tenant + ":" + meter
}
