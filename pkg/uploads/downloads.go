package uploads

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/types"
)

// BlobDownload is a blob body ready to stream back to the client. When
// Ranged is set the body covers the inclusive slice [Start, End] of an
// object Total bytes long; otherwise it is the whole object.
type BlobDownload struct {
	Body   io.ReadCloser
	Digest string
	Start  int64
	End    int64
	Total  int64
	Ranged bool
}

// Length returns the number of bytes the body will yield
func (d *BlobDownload) Length() int64 {
	if d.Ranged {
		return d.End - d.Start + 1
	}
	return d.Total
}

// Download streams a blob out of a repo. Visibility is repo-scoped: the
// digest must be referenced by a committed upload session in this repo
// or by an artifact entry of one of its versions, otherwise the blob
// does not exist as far as this repo is concerned. A digest whose
// referencing version sits in quarantine (or was rejected) is locked;
// the same digest stays downloadable from other repos.
func (s *Service) Download(ctx context.Context, tenant *types.Tenant, repo *types.Repo, digest, rangeHeader string) (*BlobDownload, error) {
	digest = strings.TrimSpace(digest)
	if !types.IsDigest(digest) {
		return nil, errs.Validation("digest must be a 64-character lowercase hex SHA-256 digest.")
	}

	visible, err := s.store.BlobVisibleInRepo(ctx, tenant.TenantID, repo.RepoID, digest)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, errs.NotFoundf("blob %s not found in repo %s", digest, repo.RepoKey)
	}

	quarantined, err := s.store.BlobQuarantinedInRepo(ctx, tenant.TenantID, repo.RepoID, digest)
	if err != nil {
		return nil, err
	}
	if quarantined {
		return nil, errs.Locked("quarantined_blob", "blob is quarantined in this repo")
	}

	blob, err := s.store.GetBlob(ctx, digest)
	if err != nil {
		return nil, err
	}
	key := BlobStorageKey(digest)

	if strings.TrimSpace(rangeHeader) == "" {
		body, length, err := s.objects.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return &BlobDownload{
			Body:   body,
			Digest: digest,
			Start:  0,
			End:    length - 1,
			Total:  length,
			Ranged: false,
		}, nil
	}

	start, end, err := parseByteRange(rangeHeader, blob.LengthBytes)
	if err != nil {
		return nil, err
	}
	body, _, err := s.objects.GetRange(ctx, key, start, end)
	if err != nil {
		return nil, err
	}
	return &BlobDownload{
		Body:   body,
		Digest: digest,
		Start:  start,
		End:    end,
		Total:  blob.LengthBytes,
		Ranged: true,
	}, nil
}

// parseByteRange parses a single "bytes=a-b" range against an object of
// the given length. The end may be omitted, meaning through the last
// byte. Suffix ranges, multi-ranges, non-numeric tokens and inverted
// bounds are malformed requests; bounds past the object are
// unsatisfiable.
func parseByteRange(header string, length int64) (int64, int64, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return 0, 0, errs.Validation("Range header must use the bytes unit.")
	}
	if strings.Contains(spec, ",") {
		return 0, 0, errs.Validation("multiple byte ranges are not supported.")
	}
	startRaw, endRaw, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, errs.Validation("Range header is malformed.")
	}
	startRaw = strings.TrimSpace(startRaw)
	endRaw = strings.TrimSpace(endRaw)
	if startRaw == "" {
		return 0, 0, errs.Validation("suffix byte ranges are not supported.")
	}

	start, err := strconv.ParseInt(startRaw, 10, 64)
	if err != nil {
		return 0, 0, errs.Validation("Range start is not a number.")
	}
	end := length - 1
	if endRaw != "" {
		end, err = strconv.ParseInt(endRaw, 10, 64)
		if err != nil {
			return 0, 0, errs.Validation("Range end is not a number.")
		}
		if end < start {
			return 0, 0, errs.Validation("Range end must not precede the start.")
		}
	}
	if start >= length || end >= length {
		return 0, 0, errs.RangeNotSatisfiable("requested range is outside the blob.")
	}
	return start, end, nil
}
