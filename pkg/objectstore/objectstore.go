package objectstore

import (
	"context"
	"io"
	"time"
)

// CompletedPart identifies one uploaded part when finishing a multipart
// upload
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// PresignedPart is a short-lived URL a client PUTs one part to
type PresignedPart struct {
	URL       string
	ExpiresAt time.Time
}

// ObjectInfo is the metadata returned by Head
type ObjectInfo struct {
	Length int64
	ETag   *string
}

// Client is the object store adapter. It is the only component that
// knows bucket and endpoint details; callers deal in object keys.
// Remote failures surface as DependencyUnavailable, missing objects as
// NotFound, unsatisfiable ranges as RangeNotSatisfiable.
type Client interface {
	// StartMultipart opens a multipart upload and returns its id
	StartMultipart(ctx context.Context, key string) (string, error)

	// PresignPart signs a PUT URL for one part. Signing is local; the
	// TTL is already clamped by configuration.
	PresignPart(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (*PresignedPart, error)

	// CompleteMultipart stitches the uploaded parts into the object
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error

	// AbortMultipart discards an in-flight upload. Aborting an unknown
	// upload succeeds.
	AbortMultipart(ctx context.Context, key, uploadID string) error

	// Head returns object metadata without the body
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Get streams the whole object
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// GetRange streams the inclusive byte range [start, end]
	GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, int64, error)

	// Copy duplicates an object within the bucket
	Copy(ctx context.Context, srcKey, dstKey string) error

	// Delete removes an object. Deleting a missing object succeeds.
	Delete(ctx context.Context, key string) error

	// Probe verifies the bucket is reachable, for readiness checks
	Probe(ctx context.Context) error
}
