package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreSaveAndResolve(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Save(ctx, "consultation.mp3", strings.NewReader("fake audio"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(ref))
	assert.Equal(t, ".mp3", filepath.Ext(ref))

	resolved, err := store.Resolve(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, ref, resolved)

	data, err := os.ReadFile(resolved)
	require.NoError(t, err)
	assert.Equal(t, "fake audio", string(data))
}

func TestLocalStoreUniqueNames(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	first, err := store.Save(ctx, "a.wav", strings.NewReader("one"))
	require.NoError(t, err)
	second, err := store.Save(ctx, "a.wav", strings.NewReader("two"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestLocalStoreResolvePassesThroughURLs(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	url := "https://storage.example/audio/42.mp3"
	resolved, err := store.Resolve(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, url, resolved)
}

func TestLocalStoreResolveMissingFile(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Resolve(context.Background(), "/nonexistent/audio.mp3")
	assert.Error(t, err)
}

func TestNewLocalStoreCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "audio")
	_, err := NewLocalStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
