package backends

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistryRoutesToRegisteredBackend(t *testing.T) {
	reg := NewRegistry(nil, zap.NewNop())
	reg.Register("llama3", &StaticBackend{Responses: map[string]string{"llama3": "hi"}})

	text, err := reg.Invoke(context.Background(), "llama3", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestRegistryFallsBackForUnknownModel(t *testing.T) {
	fallback := Func(func(_ context.Context, modelID, _ string) (string, error) {
		return "via-fallback:" + modelID, nil
	})
	reg := NewRegistry(fallback, zap.NewNop())

	text, err := reg.Invoke(context.Background(), "mystery", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "via-fallback:mystery", text)
}

func TestRegistryNoBackendIsAnError(t *testing.T) {
	reg := NewRegistry(nil, zap.NewNop())
	_, err := reg.Invoke(context.Background(), "nothing", "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backend registered")
}

func TestRegistryRateLimitCancelledContext(t *testing.T) {
	reg := NewRegistry(nil, zap.NewNop())
	reg.Register("slow", &StaticBackend{Responses: map[string]string{"slow": "ok"}})
	// One request per hour, burst of one: the second call has to wait.
	reg.SetRateLimit("slow", 1.0/3600.0, 1)

	ctx := context.Background()
	_, err := reg.Invoke(ctx, "slow", "first")
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = reg.Invoke(cancelled, "slow", "second")
	require.Error(t, err, "waiting on a cancelled context must fail, not hang")
}

func TestRegistryRemoveRateLimit(t *testing.T) {
	reg := NewRegistry(nil, zap.NewNop())
	reg.Register("m", &StaticBackend{Responses: map[string]string{"m": "ok"}})
	reg.SetRateLimit("m", 5, 1)
	reg.SetRateLimit("m", 0, 0)

	for i := 0; i < 10; i++ {
		_, err := reg.Invoke(context.Background(), "m", "p")
		require.NoError(t, err)
	}
}
