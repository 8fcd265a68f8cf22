/*
Package storage is the truth store adapter: one PostgreSQL database
accessed through the pgx stdlib driver wrapped in sqlx, with goose
migrations embedded in the binary.

The Store interface carries the single-query read paths and
EnsureTenant; everything that mutates more than one row goes through
WithTx, which opens a serializable transaction and hands the closure a
Tx whose methods compose into one atomic unit. Serialization failures
(SQLSTATE 40001) and deadlocks (40P01) retry inside WithTx with
jittered exponential backoff, bounded to a few seconds; every other
error rolls back and surfaces once.

# Error mapping

Driver errors never escape raw. mapError classifies pgconn errors into
the errs taxonomy: unique violations (23505) become Conflict, foreign
key violations (23503) become Conflict or NotFound depending on the
query, raise_exception (P0001, thrown by the immutability trigger)
becomes Conflict, connection failures become DependencyUnavailable,
and sql.ErrNoRows becomes NotFound with the entity named.

# Schema invariants

The schema enforces what services must be able to assume:

  - a published version's identity columns and a published→draft state
    change are rejected by trigger, not by convention;
  - artifact entries foreign-key their blob, so a dangling digest is a
    constraint error, never silent corruption;
  - search jobs are unique on (tenant, version), making enqueue an
    idempotent upsert;
  - quarantine items are unique on (tenant, version).

# Claim queries

The outbox and job sweeps claim work with SELECT ... FOR UPDATE SKIP
LOCKED inside WithTx, ordered by row id so concurrent workers drain
disjoint batches and a crashed worker's claims release at rollback.
Partial indexes over the undelivered/retryable predicates keep those
scans cheap as the tables grow.

# GC ordering

Reclamation reads use stable total orders so batchSize=1 drains
deterministically: expired tombstones by retention_until then
version_id, orphan blobs by digest.

# Testing

Unit tests run against DATA-DOG/go-sqlmock: expectations pin the SQL
shape, the transaction boundaries, and the error mapping without a
live database. The integration harness under test/integration runs
the same store against a real PostgreSQL when a DSN is provided.
*/
package storage
