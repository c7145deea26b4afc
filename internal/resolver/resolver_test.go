package resolver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamops/reconciler/internal/bamclient"
	"github.com/bamops/reconciler/internal/core"
)

func testClient() *bamclient.Client {
	return bamclient.New(bamclient.Config{BaseURL: "http://127.0.0.1:0"})
}

func newTestResolver(t *testing.T, extra func(*Config)) *Resolver {
	t.Helper()
	cfg := Config{
		DBPath:         filepath.Join(t.TempDir(), "resolver.db"),
		InMemorySize:   64,
		PositiveTTL:    time.Hour,
		NegativeTTL:    time.Minute,
		ViewContextTTL: 5 * time.Minute,
	}
	if extra != nil {
		extra(&cfg)
	}
	r, err := New(testClient(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestResolver_CachesAcrossCalls(t *testing.T) {
	r := newTestResolver(t, nil)
	calls := 0
	resolveFn := func(ctx context.Context) (int64, error) {
		calls++
		return 42, nil
	}

	id, err := r.Resolve(context.Background(), "block", "10.0.0.0/8", resolveFn)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, 1, calls)

	id, err = r.Resolve(context.Background(), "block", "10.0.0.0/8", resolveFn)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, 1, calls, "second resolve should hit the view-context cache, not call resolveFn again")
}

func TestResolver_NegativeCacheShortCircuits(t *testing.T) {
	r := newTestResolver(t, nil)
	calls := 0
	resolveFn := func(ctx context.Context) (int64, error) {
		calls++
		return 0, core.ErrPathNotFound
	}

	_, err := r.Resolve(context.Background(), "zone", "missing.example.com", resolveFn)
	assert.ErrorIs(t, err, core.ErrPathNotFound)
	assert.Equal(t, 1, calls)

	_, err = r.Resolve(context.Background(), "zone", "missing.example.com", resolveFn)
	assert.ErrorIs(t, err, core.ErrPathNotFound)
	assert.Equal(t, 1, calls, "second resolve should hit the negative cache, not call resolveFn again")
}

func TestResolver_BypassCacheAlwaysCallsResolveFn(t *testing.T) {
	r := newTestResolver(t, func(cfg *Config) { cfg.BypassCache = true })
	calls := 0
	resolveFn := func(ctx context.Context) (int64, error) {
		calls++
		return 7, nil
	}

	for i := 0; i < 3; i++ {
		id, err := r.Resolve(context.Background(), "block", "10.0.0.0/8", resolveFn)
		require.NoError(t, err)
		assert.Equal(t, int64(7), id)
	}
	assert.Equal(t, 3, calls)
}

func TestResolver_RedisTierServesAcrossInstances(t *testing.T) {
	srv := miniredis.RunT(t)

	r1 := newTestResolver(t, func(cfg *Config) { cfg.RedisAddr = srv.Addr() })
	calls := 0
	_, err := r1.Resolve(context.Background(), "network", "10.0.1.0/24", func(ctx context.Context) (int64, error) {
		calls++
		return 99, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// A second resolver instance, with its own empty in-memory and on-disk
	// tiers but pointed at the same Redis server, should see the entry
	// r1 populated without ever calling resolveFn.
	r2 := newTestResolver(t, func(cfg *Config) { cfg.RedisAddr = srv.Addr() })
	id, err := r2.Resolve(context.Background(), "network", "10.0.1.0/24", func(ctx context.Context) (int64, error) {
		t.Fatal("resolveFn should not be called; redis tier should have served the hit")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)
}

func TestResolver_FlushClearsEveryTier(t *testing.T) {
	srv := miniredis.RunT(t)
	r := newTestResolver(t, func(cfg *Config) { cfg.RedisAddr = srv.Addr() })

	calls := 0
	resolveFn := func(ctx context.Context) (int64, error) {
		calls++
		return 5, nil
	}
	_, err := r.Resolve(context.Background(), "block", "172.16.0.0/12", resolveFn)
	require.NoError(t, err)

	require.NoError(t, r.Flush(context.Background()))

	_, err = r.Resolve(context.Background(), "block", "172.16.0.0/12", resolveFn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "flush should force a fresh resolveFn call")
}
