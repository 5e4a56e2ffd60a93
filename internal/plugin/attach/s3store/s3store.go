package s3store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/echoheir/echoheir-service/internal/config"
	registryattach "github.com/echoheir/echoheir-service/internal/registry/attach"
	"github.com/echoheir/echoheir-service/internal/tempfiles"
	"github.com/google/uuid"
)

func init() {
	registryattach.Register(registryattach.Plugin{
		Name:   "s3",
		Loader: load,
	})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func load(ctx context.Context) (registryattach.UploadStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3store: ECHOHEIR_S3_BUCKET is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("s3store: load AWS config: %w", err)
	}
	usePathStyle := cfg.S3UsePathStyle
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})
	presigner := s3.NewPresignClient(client)
	return &S3UploadStore{
		client:    client,
		presigner: presigner,
		bucket:    cfg.S3Bucket,
		prefix:    strings.Trim(strings.TrimSpace(cfg.S3Prefix), "/"),
		tempDir:   cfg.ResolvedTempDir(),
	}, nil
}

type S3UploadStore struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	prefix    string
	tempDir   string
}

// s3Key returns the actual S3 object key for a storage key, applying the
// prefix if set. The uploads table holds the bare UUID; the prefix is applied
// at access time and never persisted.
func (s *S3UploadStore) s3Key(storageKey string) string {
	if s.prefix != "" {
		return s.prefix + "/" + storageKey
	}
	return storageKey
}

func (s *S3UploadStore) Store(ctx context.Context, data io.Reader, maxSize int64, contentType string, _ string) (*registryattach.FileStoreResult, error) {
	storageKey := uuid.New().String()
	s3Key := s.s3Key(storageKey)
	hasher := sha256.New()
	limited := io.LimitReader(data, maxSize+1)
	counting := &countingWriter{h: hasher}

	tmp, err := tempfiles.Create(s.tempDir, "echoheir-s3-upload-*")
	if err != nil {
		return nil, fmt.Errorf("s3store: create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, io.TeeReader(limited, counting)); err != nil {
		return nil, fmt.Errorf("s3store: buffer upload stream: %w", err)
	}
	if counting.n > maxSize {
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", maxSize)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("s3store: rewind temp file: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &s3Key,
		Body:          tmp,
		ContentLength: aws.Int64(counting.n),
		ContentType:   &contentType,
	}, func(o *s3.Options) {
		o.APIOptions = append(o.APIOptions, v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware)
	})
	if err != nil {
		return nil, fmt.Errorf("s3store: put object: %w", err)
	}

	return &registryattach.FileStoreResult{
		StorageKey: storageKey,
		Size:       counting.n,
		SHA256:     fmt.Sprintf("%x", hasher.Sum(nil)),
	}, nil
}

func (s *S3UploadStore) Retrieve(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	s3Key := s.s3Key(storageKey)
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &s3Key,
	})
	if err != nil {
		return nil, fmt.Errorf("s3store: get object: %w", err)
	}
	return resp.Body, nil
}

func (s *S3UploadStore) Delete(ctx context.Context, storageKey string) error {
	s3Key := s.s3Key(storageKey)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &s3Key,
	})
	return err
}

func (s *S3UploadStore) GetSignedURL(ctx context.Context, storageKey string, expiry time.Duration) (*url.URL, error) {
	s3Key := s.s3Key(storageKey)
	resp, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &s3Key,
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return nil, fmt.Errorf("s3store: presign: %w", err)
	}
	return url.Parse(resp.URL)
}

type countingWriter struct {
	h hash.Hash
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}
	w.n += int64(n)
	if _, err := w.h.Write(p); err != nil {
		return 0, err
	}
	return n, nil
}

var _ registryattach.UploadStore = (*S3UploadStore)(nil)
