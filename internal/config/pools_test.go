package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writePools(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestPoolManagerLoadAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.yaml")
	writePools(t, path, `
pools:
  default: [llama3, mistral, qwen2]
  fast: [llama3]
`)

	pm, err := NewPoolManager(path, zap.NewNop())
	require.NoError(t, err)

	pool, ok := pm.Get("default")
	require.True(t, ok)
	assert.Equal(t, []string{"llama3", "mistral", "qwen2"}, pool)

	_, ok = pm.Get("unknown")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"default", "fast"}, pm.Names())
}

func TestPoolManagerRejectsEmptyPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.yaml")
	writePools(t, path, "pools:\n  broken: []\n")

	_, err := NewPoolManager(path, zap.NewNop())
	require.Error(t, err)
}

func TestPoolManagerGetReturnsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.yaml")
	writePools(t, path, "pools:\n  p: [a, b]\n")

	pm, err := NewPoolManager(path, zap.NewNop())
	require.NoError(t, err)

	pool, _ := pm.Get("p")
	pool[0] = "mutated"
	again, _ := pm.Get("p")
	assert.Equal(t, "a", again[0])
}

func TestPoolManagerWatchReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pools.yaml")
	writePools(t, path, "pools:\n  p: [a]\n")

	pm, err := NewPoolManager(path, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pm.Watch(ctx))

	writePools(t, path, "pools:\n  p: [a, b]\n")

	require.Eventually(t, func() bool {
		pool, ok := pm.Get("p")
		return ok && len(pool) == 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestPoolManagerWatchKeepsOldOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pools.yaml")
	writePools(t, path, "pools:\n  p: [a]\n")

	pm, err := NewPoolManager(path, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pm.Watch(ctx))

	writePools(t, path, "pools: [broken")

	// The bad file must not wipe the previous presets.
	time.Sleep(200 * time.Millisecond)
	pool, ok := pm.Get("p")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, pool)
}
