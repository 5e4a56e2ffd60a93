// Package fsstore registers the default upload store, writing blobs to a
// local directory.
package fsstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/echoheir/echoheir-service/internal/config"
	registryattach "github.com/echoheir/echoheir-service/internal/registry/attach"
)

func init() {
	registryattach.Register(registryattach.Plugin{
		Name:   "fs",
		Loader: load,
	})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func load(ctx context.Context) (registryattach.UploadStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.UploadDir == "" {
		return nil, fmt.Errorf("fsstore: ECHOHEIR_UPLOADS_DIR is required")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("fsstore: create upload dir: %w", err)
	}
	return &FSUploadStore{dir: cfg.UploadDir}, nil
}

type FSUploadStore struct {
	dir string
}

// storageKey builds a collision-resistant file name from the hint, e.g.
// "photo-1735689600123-482915604.jpg".
func storageKey(nameHint string) string {
	ext := filepath.Ext(nameHint)
	base := strings.TrimSuffix(filepath.Base(nameHint), ext)
	if base == "" || base == "." {
		base = "upload"
	}
	// keep keys shell- and URL-safe
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	return fmt.Sprintf("%s-%d-%09d%s", base, time.Now().UnixMilli(), rand.Intn(1_000_000_000), ext)
}

func (s *FSUploadStore) Store(_ context.Context, data io.Reader, maxSize int64, _ string, nameHint string) (*registryattach.FileStoreResult, error) {
	key := storageKey(nameHint)
	path := filepath.Join(s.dir, key)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("fsstore: create file: %w", err)
	}

	hasher := sha256.New()
	limited := io.LimitReader(data, maxSize+1)
	total, err := io.Copy(io.MultiWriter(f, hasher), limited)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("fsstore: write file: %w", err)
	}
	if total > maxSize {
		_ = os.Remove(path)
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", maxSize)
	}

	return &registryattach.FileStoreResult{
		StorageKey: key,
		Size:       total,
		SHA256:     fmt.Sprintf("%x", hasher.Sum(nil)),
	}, nil
}

func (s *FSUploadStore) Retrieve(_ context.Context, storageKey string) (io.ReadCloser, error) {
	path, err := s.resolve(storageKey)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("upload not found: %s", storageKey)
		}
		return nil, fmt.Errorf("fsstore: open file: %w", err)
	}
	return f, nil
}

func (s *FSUploadStore) Delete(_ context.Context, storageKey string) error {
	path, err := s.resolve(storageKey)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsstore: remove file: %w", err)
	}
	return nil
}

func (s *FSUploadStore) GetSignedURL(_ context.Context, _ string, _ time.Duration) (*url.URL, error) {
	return nil, fmt.Errorf("signed URLs not supported for filesystem upload store")
}

// resolve rejects keys that would escape the upload directory.
func (s *FSUploadStore) resolve(storageKey string) (string, error) {
	if storageKey == "" || storageKey != filepath.Base(storageKey) {
		return "", fmt.Errorf("fsstore: invalid storage key %q", storageKey)
	}
	return filepath.Join(s.dir, storageKey), nil
}

var _ registryattach.UploadStore = (*FSUploadStore)(nil)
