package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/artifortress/artifortress/pkg/events"
	"github.com/artifortress/artifortress/pkg/storage"
)

const collectInterval = 15 * time.Second

// Collector keeps the backlog gauges fresh from the database and folds
// broker events into the operation counters.
type Collector struct {
	store  storage.Store
	broker *events.Broker
	stopCh chan struct{}
	now    func() time.Time
}

// NewCollector creates a new metrics collector. The broker may be nil,
// in which case only the polled gauges are maintained.
func NewCollector(store storage.Store, broker *events.Broker) *Collector {
	return &Collector{
		store:  store,
		broker: broker,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(collectInterval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()

	if c.broker != nil {
		go c.consume(c.broker.Subscribe())
	}
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	summary, err := c.store.OpsSummary(ctx, c.now().UTC())
	if err != nil {
		return
	}

	OutboxPendingEvents.Set(float64(summary.PendingOutboxEvents))
	OutboxAvailableEvents.Set(float64(summary.AvailableOutboxEvents))
	OutboxOldestPendingAge.Set(float64(summary.OldestPendingOutboxAgeSecs))
	SearchJobsPending.Set(float64(summary.PendingSearchJobs))
	SearchJobsFailed.Set(float64(summary.FailedSearchJobs))
	GCRunsIncomplete.Set(float64(summary.IncompleteGCRuns))
	PolicyTimeoutsRecent.Set(float64(summary.RecentPolicyTimeouts24h))
}

func (c *Collector) consume(sub events.Subscriber) {
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			c.apply(ev)
		case <-c.stopCh:
			c.broker.Unsubscribe(sub)
			return
		}
	}
}

// apply folds one broker event into the counters. Upload transitions
// and policy evaluations are counted at their services; their events
// exist for the live tail and are ignored here.
func (c *Collector) apply(ev *events.Event) {
	switch ev.Type {
	case events.EventOutboxSwept:
		SweepCyclesTotal.WithLabelValues("outbox").Inc()
		SweepItemsTotal.WithLabelValues("outbox", "delivered").Add(metaCount(ev, "delivered"))
		SweepItemsTotal.WithLabelValues("outbox", "requeued").Add(metaCount(ev, "requeued"))
	case events.EventJobsSwept:
		SweepCyclesTotal.WithLabelValues("jobs").Inc()
		SweepItemsTotal.WithLabelValues("jobs", "completed").Add(metaCount(ev, "completed"))
		SweepItemsTotal.WithLabelValues("jobs", "failed").Add(metaCount(ev, "failed"))
	case events.EventVersionPublished:
		VersionsPublishedTotal.Inc()
	case events.EventVersionTombstoned:
		VersionsTombstonedTotal.Inc()
	case events.EventQuarantineImposed:
		QuarantineTransitionsTotal.WithLabelValues("imposed").Inc()
	case events.EventQuarantineReleased:
		QuarantineTransitionsTotal.WithLabelValues("released").Inc()
	case events.EventQuarantineRejected:
		QuarantineTransitionsTotal.WithLabelValues("rejected").Inc()
	case events.EventGCCompleted:
		GCRunsTotal.WithLabelValues(ev.Metadata["mode"]).Inc()
		GCDeletedVersionsTotal.Add(metaCount(ev, "deletedVersions"))
		GCDeletedBlobsTotal.Add(metaCount(ev, "deletedBlobs"))
	case events.EventGCReconciled:
		OrphanBlobsObserved.Set(metaCount(ev, "orphanCount"))
	}
}

func metaCount(ev *events.Event, key string) float64 {
	n, err := strconv.Atoi(ev.Metadata[key])
	if err != nil || n < 0 {
		return 0
	}
	return float64(n)
}
