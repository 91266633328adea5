package transport

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	nethttp "net/http"
	"path"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rescale/chunkup/internal/config"
	"github.com/rescale/chunkup/internal/constants"
	"github.com/rescale/chunkup/internal/http"
	"github.com/rescale/chunkup/internal/logging"
)

// S3 uploads each chunk as one part of a multipart upload. Part numbers are
// chunk index + 1. Begin creates the multipart upload, Complete assembles the
// recorded parts and Abort discards them.
//
// S3 requires every part except the last to be at least 5 MiB, so chunk sizes
// below that only work against S3-compatible stores that relax the limit.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
	log    *logging.Logger

	mu      sync.Mutex
	uploads map[string]*multipart // by session ID
}

type multipart struct {
	key      string
	uploadID string
	etags    map[int32]string
}

// NewS3 builds an S3 client from cfg using the shared HTTP client. Static
// credentials are used when cfg carries them; otherwise the AWS default
// credential chain applies.
func NewS3(ctx context.Context, cfg config.S3Config, httpClient *nethttp.Client, log *logging.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 transport: %w", config.ErrMissingBucket)
	}
	if log == nil {
		log = logging.Nop()
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	// The shared client is attached after loading: the SDK only applies a
	// custom CA bundle (AWS_CA_BUNDLE or ca_bundle) to its own client type.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if httpClient != nil {
		if pool := customRoots(awsCfg.HTTPClient); pool != nil {
			httpClient, err = http.WithRootCAs(httpClient, pool)
			if err != nil {
				return nil, fmt.Errorf("failed to apply AWS CA bundle: %w", err)
			}
		}
		awsCfg.HTTPClient = httpClient
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &S3{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.KeyPrefix,
		log:     log,
		uploads: make(map[string]*multipart),
	}, nil
}

// customRoots returns the CA bundle pool the SDK loaded into its default
// client, or nil when no bundle is configured.
func customRoots(c aws.HTTPClient) *x509.CertPool {
	b, ok := c.(*awshttp.BuildableClient)
	if !ok {
		return nil
	}
	if tc := b.GetTransport().TLSClientConfig; tc != nil {
		return tc.RootCAs
	}
	return nil
}

func (t *S3) Name() string { return "s3" }

func (t *S3) objectKey(file FileMeta) string {
	return path.Join(t.prefix, file.SessionID, file.FileName)
}

func (t *S3) lookup(sessionID string) (*multipart, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mp, ok := t.uploads[sessionID]
	return mp, ok
}

// retry runs fn under the shared backoff policy.
func (t *S3) retry(ctx context.Context, operation string, fn func() error) error {
	p := http.Policy{
		MaxAttempts:  constants.MaxRetries,
		InitialDelay: constants.RetryInitialDelay,
		MaxDelay:     constants.RetryMaxDelay,
		OnRetry: func(n int, err error, class http.ErrorType) {
			t.log.Debug().Err(err).Int("attempt", n).
				Stringer("type", class).Msgf("Retrying %s", operation)
		},
	}
	return http.Retry(ctx, p, fn)
}

// Begin creates the multipart upload for a session.
func (t *S3) Begin(ctx context.Context, file FileMeta) error {
	key := t.objectKey(file)
	var out *s3.CreateMultipartUploadOutput
	err := t.retry(ctx, "CreateMultipartUpload", func() error {
		var err error
		out, err = t.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:   aws.String(t.bucket),
			Key:      aws.String(key),
			Metadata: map[string]string{"content-digest": file.Digest},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}

	t.mu.Lock()
	t.uploads[file.SessionID] = &multipart{
		key:      key,
		uploadID: aws.ToString(out.UploadId),
		etags:    make(map[int32]string),
	}
	t.mu.Unlock()
	t.log.Debug().Str("key", key).Str("upload_id", aws.ToString(out.UploadId)).Msg("Created multipart upload")
	return nil
}

func (t *S3) Transmit(ctx context.Context, body io.Reader, meta ChunkMeta, onProgress ProgressFunc) error {
	mp, ok := t.lookup(meta.SessionID)
	if !ok {
		return fmt.Errorf("s3: no multipart upload for session %s", meta.SessionID)
	}
	rs, err := asReadSeeker(body)
	if err != nil {
		return cancelled(ctx, fmt.Errorf("read chunk %d: %w", meta.Index, err))
	}

	partCtx, cancel := context.WithTimeout(ctx, constants.ChunkRequestTimeout)
	defer cancel()

	partNumber := int32(meta.Index + 1)
	pr := newProgressReader(rs, meta.Size(), onProgress)
	out, err := t.client.UploadPart(partCtx, &s3.UploadPartInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(mp.key),
		PartNumber:    aws.Int32(partNumber),
		UploadId:      aws.String(mp.uploadID),
		Body:          pr,
		ContentLength: aws.Int64(meta.Size()),
	})
	if err != nil {
		return cancelled(ctx, fmt.Errorf("failed to upload part %d: %w", partNumber, err))
	}

	t.mu.Lock()
	mp.etags[partNumber] = aws.ToString(out.ETag)
	t.mu.Unlock()
	return nil
}

// Complete assembles the uploaded parts in part-number order.
func (t *S3) Complete(ctx context.Context, file FileMeta) error {
	mp, ok := t.lookup(file.SessionID)
	if !ok {
		return fmt.Errorf("s3: no multipart upload for session %s", file.SessionID)
	}

	t.mu.Lock()
	parts := make([]types.CompletedPart, 0, len(mp.etags))
	for n, etag := range mp.etags {
		parts = append(parts, types.CompletedPart{PartNumber: aws.Int32(n), ETag: aws.String(etag)})
	}
	t.mu.Unlock()
	sort.Slice(parts, func(i, j int) bool { return *parts[i].PartNumber < *parts[j].PartNumber })

	if len(parts) != file.Chunks {
		return fmt.Errorf("s3: have %d parts, expected %d", len(parts), file.Chunks)
	}

	err := t.retry(ctx, "CompleteMultipartUpload", func() error {
		_, err := t.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(t.bucket),
			Key:             aws.String(mp.key),
			UploadId:        aws.String(mp.uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	t.mu.Lock()
	delete(t.uploads, file.SessionID)
	t.mu.Unlock()
	return nil
}

// Abort discards the session's multipart upload, if one exists.
func (t *S3) Abort(ctx context.Context, file FileMeta) error {
	mp, ok := t.lookup(file.SessionID)
	if !ok {
		return nil
	}
	_, err := t.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(t.bucket),
		Key:      aws.String(mp.key),
		UploadId: aws.String(mp.uploadID),
	})

	t.mu.Lock()
	delete(t.uploads, file.SessionID)
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	return nil
}
