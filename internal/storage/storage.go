// Package storage abstracts the rendered-video output sink over an
// S3-compatible object store or the local filesystem, modeled on
// helixml/helix's filestore.FileStore interface shape.
package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Store is the output sink contract from spec §4.11: upload, download,
// presign, all degrading to local-only behavior when no object-store
// endpoint is configured.
type Store interface {
	Upload(ctx context.Context, local, key string) bool
	Download(ctx context.Context, key, local string) bool
	Presign(ctx context.Context, key string, ttl time.Duration) *string
}

// LocalStore treats key as a path under root. Upload is a no-op that
// reports success since the file already lives where it needs to; download
// reports success iff local already exists; presign always returns nil so
// the HTTP layer streams the file directly.
type LocalStore struct {
	Root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{Root: root}
}

func (s *LocalStore) Upload(ctx context.Context, local, key string) bool {
	return true
}

func (s *LocalStore) Download(ctx context.Context, key, local string) bool {
	_, err := os.Stat(local)
	return err == nil
}

func (s *LocalStore) Presign(ctx context.Context, key string, ttl time.Duration) *string {
	return nil
}

// S3Store uploads and downloads through an S3-compatible endpoint, ensuring
// the configured bucket exists once per process.
type S3Store struct {
	client *s3.Client
	bucket string

	ensureOnce sync.Once
	ensureErr  error
}

// NewS3Store builds an S3Store against endpoint using static credentials.
// Path-style addressing is forced since most self-hosted S3-compatible
// endpoints (minio and similar) require it.
func NewS3Store(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Store{client: client, bucket: bucket}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.ensureOnce.Do(func() {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		if err == nil {
			return
		}
		_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
		s.ensureErr = err
	})
	return s.ensureErr
}

func (s *S3Store) Upload(ctx context.Context, local, key string) bool {
	if err := s.ensureBucket(ctx); err != nil {
		log.Error().Err(err).Msg("storage: bucket ensure failed")
		return false
	}

	f, err := os.Open(local)
	if err != nil {
		return false
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("storage: upload failed")
		return false
	}
	return true
}

func (s *S3Store) Download(ctx context.Context, key, local string) bool {
	if err := s.ensureBucket(ctx); err != nil {
		log.Error().Err(err).Msg("storage: bucket ensure failed")
		return false
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return false
	}
	f, err := os.Create(local)
	if err != nil {
		return false
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return false
	}
	return true
}

func (s *S3Store) Presign(ctx context.Context, key string, ttl time.Duration) *string {
	presigner := s3.NewPresignClient(s.client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("storage: presign failed")
		return nil
	}
	return &req.URL
}

// ErrNotConfigured is returned by callers that require a remote store but
// none was configured; currently unused by Store implementations
// themselves since LocalStore always degrades gracefully, but kept for
// callers that want to distinguish "no remote configured" from an I/O
// failure.
var ErrNotConfigured = errors.New("storage: no object-store endpoint configured")
