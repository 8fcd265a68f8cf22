/*
Package publish assembles draft package versions and flips them to
published.

A version's identity is (tenant, repo, type, namespace, name, version)
after normalization: type and name are trimmed and lowercased, the
namespace is lowercased when present, the version string is trimmed
only. Draft creation is idempotent on that identity: asking for an
identity that already has a draft returns the existing row marked
reused, while an identity already published or tombstoned conflicts.
Identities are never recycled.

Assembly happens on the draft:

	draft ──entries──▶ draft ──manifest──▶ draft ──publish──▶ published

Entries map relative paths to content-addressed blobs; every digest
must already exist as a blob at the declared size, which pins the
version's content before anything becomes visible. The manifest is the
package-type-specific metadata document, checked per type (nuget
requires id and version). Both are freely replaceable while the version
is a draft and frozen the moment it publishes.

Publish runs as one transaction that orders everything downstream
depends on: assert the row is still a draft with at least one entry and
a manifest, flip the state, insert exactly one version.published outbox
event carrying {"versionId": ...}, and write the audit record. A reader
can never observe a published version without its event row, and a
failed precondition rolls the whole thing back. Republishing an already
published version is a no-op that reports idempotent=true and must not
emit a second event; exactly-once emission per version is what the
search pipeline's correctness rests on.

Concurrent draft creation for the same identity is resolved by the
unique index: the loser re-reads and receives the winner's draft as
reused, so both callers converge on one row.
*/
package publish
