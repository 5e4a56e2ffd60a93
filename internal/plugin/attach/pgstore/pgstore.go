// Package pgstore stores uploads as PostgreSQL large objects, keeping blobs
// next to the rest of the data for single-database deployments.
package pgstore

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
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	registryattach.Register(registryattach.Plugin{
		Name:   "postgres",
		Loader: load,
	})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func load(ctx context.Context) (registryattach.UploadStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("pgstore: missing config in context")
	}
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	return &PgUploadStore{db: db, tempDir: cfg.ResolvedTempDir()}, nil
}

type PgUploadStore struct {
	db      *gorm.DB
	tempDir string
}

// Store buffers the upload to a temp file then writes it to a PostgreSQL
// large object. Returns the numeric OID as the storage key.
func (s *PgUploadStore) Store(ctx context.Context, data io.Reader, maxSize int64, _ string, _ string) (*registryattach.FileStoreResult, error) {
	const chunkSize = 8192

	tmp, err := tempfiles.Create(s.tempDir, "echoheir-pg-upload-*")
	if err != nil {
		return nil, fmt.Errorf("pgstore: create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	limited := io.LimitReader(data, maxSize+1)
	total, err := io.Copy(io.MultiWriter(tmp, hasher), limited)
	if err != nil {
		return nil, fmt.Errorf("pgstore: buffer upload: %w", err)
	}
	if total > maxSize {
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", maxSize)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("pgstore: rewind temp file: %w", err)
	}

	var oid int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw("SELECT lo_create(0)").Scan(&oid).Error; err != nil {
			return fmt.Errorf("pgstore: lo_create: %w", err)
		}

		buf := make([]byte, chunkSize)
		offset := int64(0)
		for {
			n, readErr := tmp.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				if err := tx.Exec("SELECT lo_put(?, ?, ?)", oid, offset, chunk).Error; err != nil {
					return fmt.Errorf("pgstore: lo_put at offset %d: %w", offset, err)
				}
				offset += int64(n)
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				return fmt.Errorf("pgstore: read upload buffer: %w", readErr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &registryattach.FileStoreResult{
		StorageKey: fmt.Sprintf("%d", oid),
		Size:       total,
		SHA256:     fmt.Sprintf("%x", hasher.Sum(nil)),
	}, nil
}

func (s *PgUploadStore) Retrieve(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	tmp, err := tempfiles.Create(s.tempDir, "echoheir-pg-lo-*")
	if err != nil {
		return nil, fmt.Errorf("pgstore: create temp file: %w", err)
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	rows, err := s.db.WithContext(ctx).Raw(
		"SELECT data FROM pg_largeobject WHERE loid = ? ORDER BY pageno ASC", storageKey,
	).Rows()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("upload not found: %s", storageKey)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		found = true
		var data []byte
		if err := rows.Scan(&data); err != nil {
			cleanup()
			return nil, fmt.Errorf("pgstore: decode large object page: %w", err)
		}
		if _, err := tmp.Write(data); err != nil {
			cleanup()
			return nil, fmt.Errorf("pgstore: spool large object page: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		cleanup()
		return nil, fmt.Errorf("pgstore: iterate large object pages: %w", err)
	}
	if !found {
		cleanup()
		return nil, fmt.Errorf("upload not found: %s", storageKey)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, fmt.Errorf("pgstore: rewind temp file: %w", err)
	}
	return tempfiles.NewDeleteOnClose(tmp), nil
}

func (s *PgUploadStore) Delete(ctx context.Context, storageKey string) error {
	return s.db.WithContext(ctx).Exec("SELECT lo_unlink(?)", storageKey).Error
}

func (s *PgUploadStore) GetSignedURL(_ context.Context, _ string, _ time.Duration) (*url.URL, error) {
	return nil, fmt.Errorf("signed URLs not supported for postgres upload store")
}

var _ registryattach.UploadStore = (*PgUploadStore)(nil)
