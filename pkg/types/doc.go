/*
Package types defines the domain model shared by every layer: entities,
state enums, the role and scope algebra, and the small validators the
rest of the system leans on.

Everything is a plain struct with db tags for sqlx; JSON rendering is
the API layer's job. All entities are tenant-qualified. Identifiers
that cross process boundaries are UUIDs; database row identifiers stay
monotonic integers.

# Entities

Tenant, Repo, RoleBinding and Token form the access-control side.
UploadSession, Blob, PackageVersion, ArtifactEntry and Manifest form
the artifact side: a Blob is content-addressed by its SHA-256 digest
and shared by whoever references it, while a PackageVersion exclusively
owns its entries and manifest. OutboxEvent, SearchIndexJob, Tombstone,
QuarantineItem, PolicyEvaluation, AuditRecord and GCRun carry the
asynchronous and operational state.

# States

Upload sessions move initiated → parts_uploading → pending_commit →
committed, with aborted reachable from every non-terminal state.
Versions move draft → published → tombstoned and never backwards;
published identity fields are write-once (the schema enforces it, the
services assume it). Quarantine items move quarantined → released or
rejected. Search jobs are pending, processing, completed or failed.

# Roles and scopes

A Role is read, write, admin or promote. Implies is the ordering:
admin implies everything, write implies read, and each role implies
itself. A Scope is (repoKey or *, role), serialized repo:<key|*>:<role>,
always lowercase with exactly two colons. ParseScope is strict and
used at issuance; ParseScopes is lenient and used on stored tokens,
dropping entries that no longer parse instead of failing the lookup.

# Identity normalization

VersionIdentity.Normalize trims and lowercases the package type and
name, lowercases the namespace when present, and trims the version.
Two drafts whose normalized identities match are the same draft; the
unique index is built over the normalized form.

# Validators

IsDigest accepts exactly 64 lowercase hex characters.
NormalizeRepoKey trims and lowercases; ValidateRepoKey additionally
refuses empty keys and keys containing ':' (the scope separator).
*/
package types
