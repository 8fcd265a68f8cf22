/*
Package uploads drives content-addressed blob ingestion and serves blob
downloads.

A client that wants a blob stored declares the SHA-256 digest and byte
length up front, then moves an upload session through a small state
machine:

	                ┌───────────┐
	    create ───▶ │ initiated │
	                └─────┬─────┘
	                      │ presign part
	                      ▼
	             ┌─────────────────┐ ◀─┐
	             │ parts_uploading │ ──┘ presign more parts
	             └────────┬────────┘
	                      │ complete
	                      ▼
	             ┌────────────────┐
	             │ pending_commit │
	             └────────┬───────┘
	                      │ commit (verified)
	                      ▼
	                ┌───────────┐
	                │ committed │
	                └───────────┘

Abort is reachable from every non-terminal state and verification
failure lands there too; committed and aborted are terminal. Each
transition writes its audit record in the same transaction that moves
the row.

# Deduplication

Create first consults the blob table. When a blob with the declared
digest already exists at the declared length, the session is recorded
committed and deduplicated immediately: no multipart upload is opened
and object storage is never contacted. A digest collision at a
different length can never verify, so it conflicts at create time
rather than after the client has moved the bytes.

# Parts and completion

Bytes never pass through this process. Each part is uploaded by the
client directly to object storage through a short-lived presigned PUT
URL; presigning is local key signing, so handing out URLs costs no
round trip. Complete validates the part list (non-empty, unique,
positive, ascending part numbers, non-blank ETags), asks the object
store to stitch the parts, and parks the session in pending_commit.

# Verification

Commit is where the declared identity is checked against reality: the
staged object is streamed once through SHA-256 while counting bytes. On
a match the blob row is upserted and the session committed in one
transaction, then the staged copy is deleted. On a mismatch the session
aborts with reason verification_failed and the caller receives
upload_verification_failed; the declared digest is never trusted.

# Expiry

Sessions carry a deadline. There is no background expirer: expiry is
enforced lazily, any lifecycle call on a session past its deadline
returns Conflict. Sweeping the leftover staged objects is garbage
collection's concern.

# Downloads

Download is repo-scoped twice over. Visibility: the digest must be
referenced by a committed session in the requesting repo or by an
artifact entry of one of its versions; otherwise the blob does not
exist for that repo regardless of what other repos hold. Quarantine:
a digest referenced by a quarantined or rejected version in this repo
is locked here while remaining downloadable from repos that committed
it independently.

A single bytes=a-b range is honored with the exact slice; suffix
ranges, multi-ranges and inverted bounds are malformed, and bounds past
the object are unsatisfiable.

# Storage layout

Staged parts live under staging/<tenant>/<repoKey>/<session>; committed
blobs live at blobs/sha256/<digest>. The content-addressed key means a
blob is written once no matter how many repos reference it.
*/
package uploads
