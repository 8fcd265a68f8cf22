/*
Package client is the typed Go SDK for the Artifortress REST API.

A Client wraps one base URL and one bearer token. Every call injects
the token, speaks JSON, and translates the server's error envelope
back into the errs taxonomy, so SDK callers branch on error kinds the
same way server-side code does:

	c := client.New("http://localhost:8080", token)
	session, err := c.CreateUpload(ctx, "maven-releases", uploads.CreateRequest{
		ExpectedDigest: digest,
		ExpectedLength: length,
	})
	if errs.KindOf(err) == errs.KindConflict {
		// digest known at a different length
	}

Request and response types are shared with the service packages where
they are exported (uploads, publish, policy, lifecycle, outbox, auth);
the remaining response shapes mirror the API's wire format locally.

# Uploading a blob

The upload surface follows the session state machine end to end:
CreateUpload, then PresignPart + UploadPart per part (UploadPart PUTs
the bytes straight to object storage, not through the API), then
CompleteUpload and CommitUpload. A deduplicated create returns a
session already committed; skip the part calls entirely.

# Streams

DownloadBlob returns the response body unconsumed; the caller owns
closing it. Ranged requests pass the bytes=a-b header through and
surface 416 as KindRangeNotSatisfiable, quarantine blocks as
KindLocked.
*/
package client
