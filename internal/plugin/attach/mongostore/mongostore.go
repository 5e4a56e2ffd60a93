// Package mongostore stores uploads in MongoDB GridFS.
package mongostore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/echoheir/echoheir-service/internal/config"
	registryattach "github.com/echoheir/echoheir-service/internal/registry/attach"
	"github.com/echoheir/echoheir-service/internal/tempfiles"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func init() {
	registryattach.Register(registryattach.Plugin{
		Name:   "mongo",
		Loader: load,
	})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func load(ctx context.Context) (registryattach.UploadStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.MongoURL == "" {
		return nil, fmt.Errorf("mongostore: ECHOHEIR_MONGO_URL is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURL))
	if err != nil {
		return nil, fmt.Errorf("mongostore: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}
	bucket := client.Database("echoheir").GridFSBucket()
	return &MongoUploadStore{
		bucket:  bucket,
		tempDir: cfg.ResolvedTempDir(),
	}, nil
}

type MongoUploadStore struct {
	bucket  *mongo.GridFSBucket
	tempDir string
}

// Store uploads data to GridFS. Returns the ObjectId hex string as the
// storage key.
func (s *MongoUploadStore) Store(ctx context.Context, data io.Reader, maxSize int64, _ string, nameHint string) (*registryattach.FileStoreResult, error) {
	hasher := sha256.New()
	limited := io.LimitReader(data, maxSize+1)
	counted := &countingReader{r: io.TeeReader(limited, hasher)}

	name := nameHint
	if name == "" {
		name = "upload"
	}
	fileID, err := s.bucket.UploadFromStream(ctx, name, counted)
	if err != nil {
		return nil, fmt.Errorf("mongostore: gridfs upload: %w", err)
	}

	if counted.n > maxSize {
		// Delete the oversized upload.
		_ = s.bucket.Delete(ctx, fileID)
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", maxSize)
	}

	return &registryattach.FileStoreResult{
		StorageKey: fileID.Hex(),
		Size:       counted.n,
		SHA256:     fmt.Sprintf("%x", hasher.Sum(nil)),
	}, nil
}

func (s *MongoUploadStore) Retrieve(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	oid, err := bson.ObjectIDFromHex(storageKey)
	if err != nil {
		return nil, fmt.Errorf("mongostore: invalid objectid key %s: %w", storageKey, err)
	}

	tmp, err := tempfiles.Create(s.tempDir, "echoheir-mongo-gridfs-*")
	if err != nil {
		return nil, fmt.Errorf("mongostore: create temp file: %w", err)
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	ds, err := s.bucket.OpenDownloadStream(ctx, oid)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("upload not found: %s", storageKey)
	}
	defer ds.Close()

	if _, err := io.Copy(tmp, ds); err != nil {
		cleanup()
		return nil, fmt.Errorf("mongostore: spool gridfs stream: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, fmt.Errorf("mongostore: rewind temp file: %w", err)
	}
	return tempfiles.NewDeleteOnClose(tmp), nil
}

func (s *MongoUploadStore) Delete(ctx context.Context, storageKey string) error {
	oid, err := bson.ObjectIDFromHex(storageKey)
	if err != nil {
		return fmt.Errorf("mongostore: invalid objectid key %s: %w", storageKey, err)
	}
	return s.bucket.Delete(ctx, oid)
}

func (s *MongoUploadStore) GetSignedURL(_ context.Context, _ string, _ time.Duration) (*url.URL, error) {
	return nil, fmt.Errorf("signed URLs not supported for mongo upload store")
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ registryattach.UploadStore = (*MongoUploadStore)(nil)
