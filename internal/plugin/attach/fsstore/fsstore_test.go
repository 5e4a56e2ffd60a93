package fsstore_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/echoheir/echoheir-service/internal/config"
	"github.com/echoheir/echoheir-service/internal/plugin/attach/fsstore"
	registryattach "github.com/echoheir/echoheir-service/internal/registry/attach"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) registryattach.UploadStore {
	t.Helper()
	_ = fsstore.ForceImport

	cfg := config.DefaultConfig()
	cfg.UploadDir = t.TempDir()
	ctx := config.WithContext(context.Background(), &cfg)

	loader, err := registryattach.Select("fs")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	return store
}

func TestLoad_RequiresUploadDir(t *testing.T) {
	_ = fsstore.ForceImport

	cfg := config.DefaultConfig()
	cfg.UploadDir = ""
	ctx := config.WithContext(context.Background(), &cfg)

	loader, err := registryattach.Select("fs")
	require.NoError(t, err)
	_, err = loader(ctx)
	require.Error(t, err)
	// The message names the env var that actually configures the directory.
	require.Contains(t, err.Error(), "ECHOHEIR_UPLOADS_DIR")
}

func TestStoreAndRetrieve(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	result, err := store.Store(ctx, strings.NewReader("hello world"), 1024, "text/plain", "photo.jpg")
	require.NoError(t, err)
	require.Equal(t, int64(11), result.Size)
	require.NotEmpty(t, result.SHA256)
	assert.True(t, strings.HasPrefix(result.StorageKey, "photo-"))
	assert.True(t, strings.HasSuffix(result.StorageKey, ".jpg"))

	reader, err := store.Retrieve(ctx, result.StorageKey)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestStore_RejectsOversize(t *testing.T) {
	store := setupStore(t)

	_, err := store.Store(context.Background(), strings.NewReader("0123456789"), 5, "text/plain", "big.bin")
	require.Error(t, err)
	require.Contains(t, err.Error(), "maximum size")
}

func TestStore_SanitizesNameHint(t *testing.T) {
	store := setupStore(t)

	result, err := store.Store(context.Background(), strings.NewReader("x"), 1024, "text/plain", "we ird$name!.png")
	require.NoError(t, err)
	assert.NotContains(t, result.StorageKey, " ")
	assert.NotContains(t, result.StorageKey, "$")
	assert.True(t, strings.HasSuffix(result.StorageKey, ".png"))
}

func TestDelete(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	result, err := store.Store(ctx, strings.NewReader("bye"), 1024, "text/plain", "gone.txt")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, result.StorageKey))

	_, err = store.Retrieve(ctx, result.StorageKey)
	require.Error(t, err)

	// Deleting a missing key is not an error.
	require.NoError(t, store.Delete(ctx, result.StorageKey))
}

func TestRetrieve_RejectsPathTraversal(t *testing.T) {
	store := setupStore(t)

	for _, key := range []string{"../secret", "a/b", "", "..\\..\\x"} {
		_, err := store.Retrieve(context.Background(), key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestGetSignedURL_Unsupported(t *testing.T) {
	store := setupStore(t)

	_, err := store.GetSignedURL(context.Background(), "any", time.Minute)
	require.Error(t, err)
}
