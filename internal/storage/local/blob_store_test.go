// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/siteaudit/internal/storage/local"
)

type fakeMirror struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{objects: map[string][]byte{}}
}

func (m *fakeMirror) PutObject(_ context.Context, key, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return "mem://" + key, nil
}

func (m *fakeMirror) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, prefix)
	return nil
}

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "artifacts")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.Equal(t, dir, store.Root())
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObjectAndDir(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		data := []byte("jpeg bytes")
		uri, err := store.PutObject(context.Background(), "a.test/about/screenshot.jpeg", "image/jpeg", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, "a.test", "about", "screenshot.jpeg"), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, "a.test", "about", "screenshot.jpeg"))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.txt", "text/plain", bytes.NewReader([]byte("x")))
		assert.ErrorContains(t, err, "path traversal")
		_, err = store.Dir("../../etc")
		assert.Error(t, err)
	})

	t.Run("Dir", func(t *testing.T) {
		dir, err := store.Dir("b.test/_index")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tempDir, "b.test", "_index"), dir)
		assert.DirExists(t, dir)
	})
}

func TestRemoveToleratesMissing(t *testing.T) {
	t.Parallel()

	mirror := newFakeMirror()
	store, err := local.New(local.Config{BaseDir: t.TempDir()}, local.WithMirror(mirror))
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "a.test/x/__screenshot-thumbnails__/0.jpeg", "", bytes.NewReader([]byte("0")))
	require.NoError(t, err)

	require.NoError(t, store.Remove(context.Background(), "a.test/x/__screenshot-thumbnails__"))
	require.NoDirExists(t, filepath.Join(store.Root(), "a.test", "x", "__screenshot-thumbnails__"))
	require.NoError(t, store.Remove(context.Background(), "a.test/x/never-written.jpeg"))
	require.Equal(t, []string{"a.test/x/__screenshot-thumbnails__", "a.test/x/never-written.jpeg"}, mirror.deleted)
}

func TestSyncUploadsToMirror(t *testing.T) {
	t.Parallel()

	mirror := newFakeMirror()
	store, err := local.New(local.Config{BaseDir: t.TempDir()}, local.WithMirror(mirror))
	require.NoError(t, err)

	ctx := context.Background()
	for _, key := range []string{"a.test/x/lighthouse.json", "a.test/x/__screenshot-thumbnails__/0.jpeg", "a.test/y/other.json"} {
		_, err := store.PutObject(ctx, key, "", bytes.NewReader([]byte(key)))
		require.NoError(t, err)
	}
	require.NoError(t, store.Sync(ctx, "a.test/x"))

	keys := make([]string, 0, len(mirror.objects))
	for k := range mirror.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	require.Equal(t, []string{"a.test/x/__screenshot-thumbnails__/0.jpeg", "a.test/x/lighthouse.json"}, keys)
}

func TestSyncWithoutMirrorIsNoop(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, store.Sync(context.Background(), "does/not/exist"))
}
