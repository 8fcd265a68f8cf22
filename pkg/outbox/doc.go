// Package outbox drives the asynchronous pipeline between a publish and
// the search index.
//
// The publish transaction writes a version.published outbox row; from
// there two independent sweeps carry the work forward:
//
//	outbox_events                search_index_jobs
//	+--------------+  producer   +-----------------+  consumer
//	| undelivered  | ==========> | pending         | =========> completed
//	| available    |   sweep     | (or failed,     |   sweep       |
//	+--------------+             |  backoff wait)  |               v
//	       ^                     +-----------------+          (indexer)
//	       |                              |
//	       +---- requeued (unroutable)    +---- failed until attempts
//	                                            reach the ceiling
//
// Both sweeps claim rows with FOR UPDATE SKIP LOCKED inside one
// transaction, so any number of copies can run concurrently: two
// workers never process the same row, and a crashed pass releases its
// claims at abort with nothing half-done.
//
// # Routing
//
// The producer resolves each event's version from the aggregate id
// (fast path) or the payload's versionId field. An event that resolves
// gets its job upserted and its delivery stamped in the same
// transaction; one that does not is left untouched and comes back on
// the next pass. The job upsert is idempotent on (tenant, version), so
// a duplicate event re-arms the existing job instead of creating a
// second one.
//
// # Failure schedule
//
// The consumer completes a job when its version is published and
// otherwise reschedules it: attempts advance by one and the wait
// doubles per attempt until the exponent cap, so with the 30s base the
// waits run 30s, 60s, 120s, ... capping at 960s. A job at the attempt
// ceiling is never claimed again. The schedule is deterministic given
// the clock and the attempt count, which keeps retry behavior
// reproducible across workers.
//
// # Scheduling
//
// Sweeper runs both sweeps on independent tickers and publishes
// non-empty outcomes to the events broker, keeping observers out of the
// sweep transactions.
package outbox
