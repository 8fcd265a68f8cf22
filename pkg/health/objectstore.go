package health

import (
	"context"
	"fmt"
	"time"
)

// Prober is the slice of the object store client the probe needs
type Prober interface {
	Probe(ctx context.Context) error
}

// ObjectStoreChecker verifies the blob bucket answers a HEAD request
type ObjectStoreChecker struct {
	client Prober
}

// NewObjectStoreChecker creates a probe over the object store client
func NewObjectStoreChecker(client Prober) *ObjectStoreChecker {
	return &ObjectStoreChecker{client: client}
}

// Name returns the dependency name
func (o *ObjectStoreChecker) Name() string {
	return "objectstore"
}

// Check heads the bucket through the client's circuit breaker, so an
// open breaker reads as unhealthy without issuing another request.
func (o *ObjectStoreChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if err := o.client.Probe(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("bucket probe failed: %v", err),
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
