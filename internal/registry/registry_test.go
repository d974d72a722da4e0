package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/docpipe/internal/cache"
	"github.com/spherical/docpipe/internal/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error"})
}

func TestResolveCapabilityPrefersEarliestHealthyMatch(t *testing.T) {
	r := New(Config{}, testLogger())
	r.Register("local", "http://local", "text-llm")
	r.Register("cloud", "http://cloud", "text-llm")

	// Neither backend has been probed yet; both are HealthUnknown, so
	// resolution should fail until a probe marks one healthy.
	_, ok := r.ResolveCapability("text-llm")
	assert.False(t, ok)

	r.backends["local"].setState(HealthHealthy)
	addr, ok := r.ResolveCapability("text-llm")
	require.True(t, ok)
	assert.Equal(t, "http://local", addr)
}

func TestResolveCapabilityIsDeterministicAcrossHealthyBackends(t *testing.T) {
	r := New(Config{}, testLogger())
	r.Register("cloud", "http://cloud", "text-llm")
	r.Register("local", "http://local", "text-llm")
	r.backends["cloud"].setState(HealthHealthy)
	r.backends["local"].setState(HealthHealthy)

	for i := 0; i < 10; i++ {
		addr, ok := r.ResolveCapability("text-llm")
		require.True(t, ok)
		assert.Equal(t, "http://cloud", addr, "should always prefer the first-registered healthy match")
	}
}

func TestIsAvailableRequiresHealthyBackend(t *testing.T) {
	r := New(Config{}, testLogger())
	r.Register("layout", "http://layout", "layout-extraction")
	assert.False(t, r.IsAvailable("layout-extraction"))

	r.backends["layout"].setState(HealthHealthy)
	assert.True(t, r.IsAvailable("layout-extraction"))
}

func TestProbeAllMarksHealthyOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(Config{ProbeTimeout: time.Second}, testLogger())
	r.Register("svc", srv.URL, "layout-extraction")

	r.probeAll(context.Background())

	assert.Equal(t, HealthHealthy, r.Health("svc"))
}

func TestProbeAllMarksDegradedOnFailure(t *testing.T) {
	r := New(Config{ProbeTimeout: 100 * time.Millisecond}, testLogger())
	r.Register("svc", "http://127.0.0.1:1", "layout-extraction")

	r.probeAll(context.Background())

	assert.Equal(t, HealthDegraded, r.Health("svc"))
}

func TestSnapshotListsEveryBackend(t *testing.T) {
	r := New(Config{}, testLogger())
	r.Register("a", "http://a", "cap-a")
	r.Register("b", "http://b", "cap-b")

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
}

type fakeCache struct {
	values map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{values: make(map[string][]byte)} }

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := f.values[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.values[key] = value
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	delete(f.values, key)
	return nil
}

func (f *fakeCache) DeleteByPrefix(ctx context.Context, prefix string) error { return nil }
func (f *fakeCache) Close() error                                          { return nil }

func TestHealthFallsBackToSharedCacheWhenUnprobedLocally(t *testing.T) {
	shared := newFakeCache()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	probed := New(Config{ProbeTimeout: time.Second}, testLogger()).WithCache(shared)
	probed.Register("svc", srv.URL, "layout-extraction")
	probed.probeAll(context.Background())
	require.Equal(t, HealthHealthy, probed.Health("svc"))

	// A second, freshly-started registry that has never probed "svc" itself
	// should read the shared cache instead of reporting unknown.
	fresh := New(Config{}, testLogger()).WithCache(shared)
	fresh.Register("svc", srv.URL, "layout-extraction")
	assert.Equal(t, HealthHealthy, fresh.Health("svc"))
}

func TestStartStopDoesNotPanic(t *testing.T) {
	r := New(Config{ProbeInterval: 10 * time.Millisecond, ProbeTimeout: 10 * time.Millisecond}, testLogger())
	r.Register("svc", "http://127.0.0.1:1", "cap")

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	r.Stop()
	cancel()
}
