package clients

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/log"
	"github.com/reelhouse/reelhouse-api/metrics"
)

const (
	// DefaultOperationTimeout bounds every object-store call when the caller
	// doesn't bring its own deadline.
	DefaultOperationTimeout = 10 * time.Minute

	multipartPartSize = 5 * 1024 * 1024
)

type ObjectStoreOptions struct {
	Endpoint, Region             string
	AccessKeyID, AccessKeySecret string
	Bucket                       string
	// PublicBaseURL is the CDN or gateway base used to build playback URLs
	// for stored artifacts. Falls back to {endpoint}/{bucket} when empty.
	PublicBaseURL string
	Timeout       time.Duration
}

// ObjectStore talks to an S3-compatible endpoint. It has no built-in retry:
// callers pick their own backoff policy.
type ObjectStore struct {
	s3       *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	baseURL  string
	timeout  time.Duration
}

func NewObjectStore(opts ObjectStoreOptions) (*ObjectStore, error) {
	config := aws.NewConfig().
		WithRegion(opts.Region).
		WithCredentials(credentials.NewStaticCredentials(opts.AccessKeyID, opts.AccessKeySecret, "")).
		WithEndpoint(opts.Endpoint).
		WithS3ForcePathStyle(true)
	sess, err := session.NewSession(config)
	if err != nil {
		return nil, fmt.Errorf("error creating object store session: %w", err)
	}

	baseURL := opts.PublicBaseURL
	if baseURL == "" {
		baseURL = strings.TrimSuffix(opts.Endpoint, "/") + "/" + opts.Bucket
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultOperationTimeout
	}

	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = multipartPartSize
		u.LeavePartsOnError = false
	})

	return &ObjectStore{
		s3:       s3.New(sess),
		uploader: uploader,
		bucket:   opts.Bucket,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		timeout:  timeout,
	}, nil
}

type PutInput struct {
	Key          string
	Body         io.Reader
	Size         int64 // used for progress percentages; 0 disables them
	ContentType  string
	CacheControl string
	Public       bool
	// Progress receives percentage-complete values, rounded down. Best
	// effort: called inline from the upload reader.
	Progress func(pct int)
}

type PutResult struct {
	URL  string
	ETag string
}

// PutMultipart streams body into the store using multipart upload so large
// files never need full buffering.
func (o *ObjectStore) PutMultipart(ctx context.Context, in PutInput) (PutResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body := in.Body
	if in.Progress != nil && in.Size > 0 {
		body = &progressReader{r: in.Body, total: in.Size, onProgress: in.Progress}
	}

	upIn := &s3manager.UploadInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(in.Key),
		Body:   body,
	}
	if in.ContentType != "" {
		upIn.ContentType = aws.String(in.ContentType)
	}
	if in.CacheControl != "" {
		upIn.CacheControl = aws.String(in.CacheControl)
	}
	if in.Public {
		upIn.ACL = aws.String(s3.ObjectCannedACLPublicRead)
	}

	out, err := o.uploader.UploadWithContext(ctx, upIn)
	if err != nil {
		return PutResult{}, mapStoreError(err)
	}
	if in.Size > 0 {
		metrics.Metrics.UploadedBytes.Add(float64(in.Size))
	}
	var etag string
	if out.ETag != nil {
		etag = *out.ETag
	}
	return PutResult{URL: o.URLFor(in.Key), ETag: etag}, nil
}

// PutFile uploads a local file, wiring its size into progress reporting.
func (o *ObjectStore) PutFile(ctx context.Context, localPath, key, contentType, cacheControl string, onProgress func(int)) (PutResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to open %s for upload: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	return o.PutMultipart(ctx, PutInput{
		Key:          key,
		Body:         f,
		Size:         info.Size(),
		ContentType:  contentType,
		CacheControl: cacheControl,
		Public:       true,
		Progress:     onProgress,
	})
}

// PutDirectory uploads every regular file under dir to keyPrefix, preserving
// filenames. Used for the variant playlist plus its sibling segments.
func (o *ObjectStore) PutDirectory(ctx context.Context, dir, keyPrefix string, onProgress func(int)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var total, done int64
	for _, e := range entries {
		if info, err := e.Info(); err == nil && e.Type().IsRegular() {
			total += info.Size()
		}
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		localPath := filepath.Join(dir, e.Name())
		key := keyPrefix + "/" + e.Name()
		info, err := e.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", localPath, err)
		}
		_, err = o.PutFile(ctx, localPath, key, ContentTypeFor(e.Name()), CacheControlFor(e.Name()), nil)
		if err != nil {
			return err
		}
		done += info.Size()
		if onProgress != nil && total > 0 {
			onProgress(int(done * 100 / total))
		}
	}
	return nil
}

type HeadInfo struct {
	ContentLength int64
	ContentType   string
}

func (o *ObjectStore) Head(ctx context.Context, key string) (HeadInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	out, err := o.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return HeadInfo{}, mapStoreError(err)
	}
	info := HeadInfo{}
	if out.ContentLength != nil {
		info.ContentLength = *out.ContentLength
	}
	if out.ContentType != nil {
		info.ContentType = *out.ContentType
	}
	return info, nil
}

// GetRange returns a reader over bytes [start, end] of the object. A negative
// start fetches the whole object.
func (o *ObjectStore) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	in := &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	}
	if start >= 0 {
		in.Range = aws.String(fmt.Sprintf("bytes=%d-%d", start, end))
	}
	out, err := o.s3.GetObjectWithContext(ctx, in)
	if err != nil {
		cancel()
		return nil, mapStoreError(err)
	}
	return &cancelReadCloser{ReadCloser: out.Body, cancel: cancel}, nil
}

func (o *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return o.GetRange(ctx, key, -1, -1)
}

func (o *ObjectStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	_, err := o.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapStoreError(err)
	}
	return nil
}

// DeletePrefix removes every object under prefix. Best effort: the first
// listing or delete error aborts, leftover keys are logged by callers.
func (o *ObjectStore) DeletePrefix(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(o.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			_, err := o.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(o.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				log.LogNoJobID("failed to delete object under prefix", "key", *obj.Key, "err", err)
			}
		}
		return true
	})
}

// Copy does a server-side copy within the bucket. Combined with a delete it
// implements the temp-key-then-replace pattern that keeps master playlist
// readers atomic.
func (o *ObjectStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	_, err := o.s3.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(o.bucket),
		CopySource: aws.String(url.PathEscape(o.bucket + "/" + srcKey)),
		Key:        aws.String(dstKey),
		ACL:        aws.String(s3.ObjectCannedACLPublicRead),
	})
	if err != nil {
		return mapStoreError(err)
	}
	return nil
}

func (o *ObjectStore) URLFor(key string) string {
	return o.baseURL + "/" + key
}

func (o *ObjectStore) Bucket() string {
	return o.bucket
}

// ContentTypeFor picks the MIME type for pipeline artifacts by extension.
func ContentTypeFor(name string) string {
	switch path.Ext(name) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".vtt":
		return "text/vtt"
	case ".mp4":
		return "video/mp4"
	default:
		if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// CacheControlFor returns a long max-age for immutable artifacts and a short
// one for playlists, whose contents mutate while the ladder builds.
func CacheControlFor(name string) string {
	switch path.Ext(name) {
	case ".m3u8":
		return "max-age=10"
	case ".ts", ".vtt", ".mp4":
		return "max-age=31536000, immutable"
	default:
		return ""
	}
}

func mapStoreError(err error) error {
	var awsErr awserr.Error
	if goerrors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return fmt.Errorf("%w: %s", errors.ErrNotFound, awsErr.Code())
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%w: %s", errors.ErrForbidden, awsErr.Code())
		case "InvalidRange":
			return fmt.Errorf("%w: %s", errors.ErrRangeNotSatisfiable, awsErr.Code())
		}
		var reqErr awserr.RequestFailure
		if goerrors.As(err, &reqErr) {
			switch reqErr.StatusCode() {
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", errors.ErrNotFound, reqErr.Code())
			case http.StatusForbidden:
				return fmt.Errorf("%w: %s", errors.ErrForbidden, reqErr.Code())
			case http.StatusRequestedRangeNotSatisfiable:
				return fmt.Errorf("%w: %s", errors.ErrRangeNotSatisfiable, reqErr.Code())
			}
		}
	}
	return err
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

// progressReader reports percentage-complete as the upload consumes the body.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	lastPct    int
	onProgress func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	pct := int(p.read * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	if pct > p.lastPct {
		p.lastPct = pct
		p.onProgress(pct)
	}
	return n, err
}
