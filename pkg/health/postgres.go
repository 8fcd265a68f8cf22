package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger is the slice of the storage layer the probe needs
type Pinger interface {
	Ping(ctx context.Context) error
}

// PostgresChecker verifies the truth store answers a trivial query
type PostgresChecker struct {
	store Pinger
}

// NewPostgresChecker creates a probe over the storage layer
func NewPostgresChecker(store Pinger) *PostgresChecker {
	return &PostgresChecker{store: store}
}

// Name returns the dependency name
func (p *PostgresChecker) Name() string {
	return "postgres"
}

// Check runs SELECT 1 through the pool. A pool-level ping can pass while
// the server refuses queries, so the probe is a real round trip.
func (p *PostgresChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if err := p.store.Ping(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("query failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   "ok",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
