package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/artifortress/artifortress/pkg/config"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/log"
)

type s3API interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type s3Presigner interface {
	PresignUploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Client implements Client against any S3-compatible endpoint. All
// remote calls go through a circuit breaker so a struggling backend
// sheds load fast instead of stacking timeouts.
type S3Client struct {
	api       s3API
	presigner s3Presigner
	breaker   *gobreaker.CircuitBreaker
	bucket    string
	logger    zerolog.Logger
}

// NewS3Client builds the adapter from configuration. Static credentials
// and a custom endpoint cover MinIO-style deployments; path-style
// addressing is opt-in for the same reason.
func NewS3Client(ctx context.Context, cfg config.ObjectStorageConfig) (*S3Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load object store config: %w", err)
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Client(api, s3.NewPresignClient(api), cfg.Bucket), nil
}

func newS3Client(api s3API, presigner s3Presigner, bucket string) *S3Client {
	logger := log.WithComponent("objectstore")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "object-store",
		MaxRequests: 3,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransportError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Object store breaker state changed")
		},
	})
	return &S3Client{
		api:       api,
		presigner: presigner,
		breaker:   breaker,
		bucket:    bucket,
		logger:    logger,
	}
}

// isTransportError reports whether an S3 error should count against the
// breaker. Client-level outcomes (missing key, bad range, unknown
// upload) are healthy backend responses.
func isTransportError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchUpload", "InvalidRange":
			return false
		}
	}
	return true
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errs.Unavailable("object_store_unavailable",
			fmt.Sprintf("%s: object store circuit open", op))
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return errs.NotFound(fmt.Sprintf("%s: object not found", op))
		case "NoSuchUpload":
			return errs.NotFound(fmt.Sprintf("%s: multipart upload not found", op))
		case "InvalidRange":
			return errs.RangeNotSatisfiable(fmt.Sprintf("%s: range outside object bounds", op))
		}
	}
	return errs.Wrap(errs.KindDependencyUnavailable, "object_store_error",
		fmt.Sprintf("%s failed", op), err)
}

func (c *S3Client) do(op string, fn func() (interface{}, error)) (interface{}, error) {
	out, err := c.breaker.Execute(fn)
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// StartMultipart opens a multipart upload for key
func (c *S3Client) StartMultipart(ctx context.Context, key string) (string, error) {
	out, err := c.do("start multipart", func() (interface{}, error) {
		return c.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return "", err
	}
	resp := out.(*s3.CreateMultipartUploadOutput)
	if resp.UploadId == nil {
		return "", errs.New(errs.KindDependencyUnavailable, "object_store_error",
			"start multipart: backend returned no upload id")
	}
	return *resp.UploadId, nil
}

// PresignPart signs a part-upload URL. Signing happens locally, so it
// bypasses the breaker.
func (c *S3Client) PresignPart(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (*PresignedPart, error) {
	req, err := c.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}, func(o *s3.PresignOptions) {
		o.Expires = ttl
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, "object_store_error",
			"presign part failed", err)
	}
	return &PresignedPart{
		URL:       req.URL,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

// CompleteMultipart finishes an upload. Parts are deduplicated by part
// number and sent in ascending order as the backend requires.
func (c *S3Client) CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	deduped := make(map[int32]CompletedPart, len(parts))
	for _, p := range parts {
		deduped[p.PartNumber] = p
	}
	completed := make([]s3types.CompletedPart, 0, len(deduped))
	for _, p := range deduped {
		completed = append(completed, s3types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		})
	}
	sort.Slice(completed, func(i, j int) bool {
		return *completed[i].PartNumber < *completed[j].PartNumber
	})
	_, err := c.do("complete multipart", func() (interface{}, error) {
		return c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(c.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
			MultipartUpload: &s3types.CompletedMultipartUpload{
				Parts: completed,
			},
		})
	})
	return err
}

// AbortMultipart discards an upload; a missing upload is success
func (c *S3Client) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := c.do("abort multipart", func() (interface{}, error) {
		return c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(c.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
	})
	if err != nil && errs.IsKind(err, errs.KindNotFound) {
		return nil
	}
	return err
}

// Head returns an object's length and etag
func (c *S3Client) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := c.do("head object", func() (interface{}, error) {
		return c.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return nil, err
	}
	resp := out.(*s3.HeadObjectOutput)
	return &ObjectInfo{
		Length: aws.ToInt64(resp.ContentLength),
		ETag:   resp.ETag,
	}, nil
}

// Get streams the whole object
func (c *S3Client) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	return c.get(ctx, key, nil)
}

// GetRange streams the inclusive byte range [start, end]
func (c *S3Client) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, int64, error) {
	byteRange := fmt.Sprintf("bytes=%d-%d", start, end)
	return c.get(ctx, key, &byteRange)
}

func (c *S3Client) get(ctx context.Context, key string, byteRange *string) (io.ReadCloser, int64, error) {
	out, err := c.do("get object", func() (interface{}, error) {
		return c.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
			Range:  byteRange,
		})
	})
	if err != nil {
		return nil, 0, err
	}
	resp := out.(*s3.GetObjectOutput)
	return resp.Body, aws.ToInt64(resp.ContentLength), nil
}

// Copy duplicates srcKey to dstKey within the bucket
func (c *S3Client) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := c.do("copy object", func() (interface{}, error) {
		return c.api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(c.bucket),
			CopySource: aws.String(c.bucket + "/" + srcKey),
			Key:        aws.String(dstKey),
		})
	})
	return err
}

// Delete removes an object; deleting a missing object succeeds
func (c *S3Client) Delete(ctx context.Context, key string) error {
	_, err := c.do("delete object", func() (interface{}, error) {
		return c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil && errs.IsKind(err, errs.KindNotFound) {
		return nil
	}
	return err
}

// Probe checks bucket reachability for readiness
func (c *S3Client) Probe(ctx context.Context) error {
	_, err := c.do("probe bucket", func() (interface{}, error) {
		return c.api.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(c.bucket),
		})
	})
	return err
}
