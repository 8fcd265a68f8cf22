/*
Package events provides the in-memory broker for Artifortress's
operational pub/sub messaging.

The durable event of record is the outbox row in Postgres; this broker
is the opposite end of the spectrum. It fans live notifications out to
in-process observers with no persistence and no delivery guarantee,
which is exactly what log tails, metrics hooks, and admin streams want.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                          │
	│  Publisher → Event Channel (buffer: 100)                 │
	│       ↓                                                  │
	│  Broadcast Loop                                          │
	│       ↓                                                  │
	│  Subscriber Channels (buffer: 50 each)                   │
	│                                                          │
	│  Publishers:                                             │
	│    - outbox sweeper: sweep.outbox, sweep.jobs            │
	│    - lifecycle:      gc.completed, gc.reconciled,        │
	│                      version.tombstoned                  │
	│    - publish:        version.published                   │
	│    - uploads:        upload.committed                    │
	│    - policy:         quarantine.imposed / released /     │
	│                      rejected                            │
	│                                                          │
	│  Subscribers:                                            │
	│    - structured log tail                                 │
	│    - metrics collector                                   │
	└──────────────────────────────────────────────────────────┘

# Event Flow

Publish is non-blocking: the event lands in a buffered channel and the
broadcast loop fans it out. A subscriber whose buffer is full is
skipped, never waited on, so a stuck observer cannot stall a sweep.

Subscribe returns a buffered channel; Unsubscribe removes and closes
it. Always pair them:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventOutboxSwept:
				// counts live in event.Metadata
			}
		}
	}()

# Event Types

Sweep events carry their outcome counts in Metadata (claimed, enqueued,
delivered, requeued for the producer; claimed, completed, failed for
the job consumer). GC events carry the run mode and candidate counts.
Version and quarantine events carry the ids an observer needs to
correlate with the audit log, which remains the durable record.

Nothing critical may depend on broker delivery. If a consumer needs
every occurrence, it belongs on the outbox pipeline, not here.
*/
package events
