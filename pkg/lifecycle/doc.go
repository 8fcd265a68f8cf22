// Package lifecycle retires package versions and reclaims the storage
// behind them.
//
// Retirement is two-phase. Tombstoning a published version is cheap and
// immediate: the state flips, a retention deadline is recorded, and the
// version disappears from normal reads while its rows and bytes stay
// put. Reclamation happens later, when a garbage collection run finds
// tombstones whose retention has lapsed.
//
//	published --tombstone--> tombstoned --retention lapses--> GC-eligible
//	                              |
//	                              +-- repeat tombstone: idempotent no-op
//
// # Collection
//
// A run works from two candidate sets. Expired-tombstone versions drain
// in retention-deadline order (version id breaks ties); orphan blobs,
// referenced by no artifact entry and no committed upload session and
// older than the grace cutoff, drain in digest order. Both orders are
// stable, so repeated runs with batchSize=1 delete the same sequence a
// single large run would.
//
// Execute mode deletes one bounded batch of each set in a single
// transaction: version rows cascade their entries, manifest, tombstone
// and quarantine state, and uniquely-owned blobs (shared blobs survive)
// go with them. Backing objects are removed only after the commit, so a
// rolled-back transaction never costs bytes; a failed object delete is
// logged and the object is stranded rather than the truth store left
// wrong.
//
// Every run opens a gc_runs record before deleting anything and closes
// it with the final counts. A crashed run therefore stays visible as an
// incomplete row in the ops summary.
//
// # Reconcile
//
// ReconcileBlobs is the read-only sibling: it counts and samples orphan
// blobs for operators without scheduling any deletion.
package lifecycle
