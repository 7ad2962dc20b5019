package storage_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"logoqr/pkg/storage"
)

func TestLocalStore_CRUD(t *testing.T) {
	// given
	ctx := context.Background()
	dir := t.TempDir()
	store, err := storage.NewLocal(dir)
	require.NoError(t, err)

	// when
	require.NoError(t, store.Save(ctx, "logo-1.png", strings.NewReader("PNGDATA"), "image/png"))

	// then
	ok, err := store.Exists(ctx, "logo-1.png")
	require.NoError(t, err)
	require.True(t, ok)

	obj, err := store.Open(ctx, "logo-1.png")
	require.NoError(t, err)
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	require.NoError(t, obj.Body.Close())
	require.Equal(t, "PNGDATA", string(data))
	require.Equal(t, int64(len("PNGDATA")), obj.Size)

	names, err := store.List()
	require.NoError(t, err)
	require.Equal(t, []string{"logo-1.png"}, names)

	t.Run("should delete idempotently", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "logo-1.png"))
		require.NoError(t, store.Delete(ctx, "logo-1.png"))

		ok, err := store.Exists(ctx, "logo-1.png")
		require.NoError(t, err)
		require.False(t, ok)

		_, err = store.Open(ctx, "logo-1.png")
		require.ErrorIs(t, err, storage.ErrNotExist)
	})
}

func TestLocalStore_RejectsPathNames(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", ".", "..", "../etc/passwd", "a/b.png", `a\b.png`} {
		err := store.Save(ctx, name, strings.NewReader("x"), "")
		require.ErrorIs(t, err, storage.ErrInvalidName, name)
		_, err = store.Open(ctx, name)
		require.ErrorIs(t, err, storage.ErrInvalidName, name)
	}
}

func TestLocalStore_CancelledSaveLeavesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()
	store, err := storage.NewLocal(dir)
	require.NoError(t, err)

	require.Error(t, store.Save(ctx, "qr-1.png", strings.NewReader("data"), "image/png"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLocalStore_WatchReportsExternalRemoval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()
	store, err := storage.NewLocal(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "qr-2.png", strings.NewReader("data"), "image/png"))

	removed := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx, func(name string) { removed <- name }, nil)
	}()

	// the watcher has no ready signal; retry the removal until an event arrives
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "qr-2.png"), []byte("data"), 0o644)
		_ = os.Remove(filepath.Join(dir, "qr-2.png"))
		select {
		case name := <-removed:
			return name == "qr-2.png"
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
