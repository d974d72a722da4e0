// Package registry implements the Backend Registry: discovery, background
// health-checking, and logical-name addressing for the remote services the
// pipeline depends on (layout engines, vision/text LLMs, the embedding
// model).
package registry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/spherical/docpipe/internal/cache"
	"github.com/spherical/docpipe/internal/observability"
)

// healthCacheTTL bounds how long a published health state is trusted by a
// sibling process before it falls back to its own "unknown" default.
const healthCacheTTL = 90 * time.Second

// HealthState is a backend's cached health classification.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthUnknown  HealthState = "unknown"
)

// Backend is one named remote service.
type Backend struct {
	Name         string
	BaseURL      string
	Capability   string
	mu           sync.RWMutex
	state        HealthState
	lastProbedAt time.Time
}

func (b *Backend) snapshot() (HealthState, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state, b.lastProbedAt
}

func (b *Backend) setState(s HealthState) {
	b.mu.Lock()
	b.state = s
	b.lastProbedAt = time.Now()
	b.mu.Unlock()
}

// Registry holds the set of named backends and runs periodic health probes.
// Probe failures only ever downgrade health; they are never fatal to the
// caller.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*Backend
	order    []string

	probeInterval time.Duration
	probeTimeout  time.Duration
	httpClient    *http.Client
	logger        *observability.Logger
	cache         cache.Client

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Config configures the registry's background prober.
type Config struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// New creates a Registry seeded with the given backends. Call Start to
// begin background health probing.
func New(cfg Config, logger *observability.Logger, seed ...Backend) *Registry {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}

	r := &Registry{
		backends:      make(map[string]*Backend),
		probeInterval: cfg.ProbeInterval,
		probeTimeout:  cfg.ProbeTimeout,
		httpClient:    &http.Client{Timeout: cfg.ProbeTimeout},
		logger:        logger,
		cache:         cache.NoopClient{},
		stopCh:        make(chan struct{}),
	}
	for i := range seed {
		b := seed[i]
		b.state = HealthUnknown
		r.backends[b.Name] = &b
		r.order = append(r.order, b.Name)
	}
	return r
}

// WithCache attaches a shared cache that health states are published to and
// read through when a backend has never been probed locally, so a
// freshly-started process doesn't report a just-probed-healthy backend as
// unknown until its own first probe cycle completes.
func (r *Registry) WithCache(c cache.Client) *Registry {
	r.cache = c
	return r
}

// Register adds or replaces a backend definition. Registration order is
// preserved (a re-registration of an existing name keeps its original slot)
// so capability resolution stays deterministic.
func (r *Registry) Register(name, baseURL, capability string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[name]; !exists {
		r.order = append(r.order, name)
	}
	r.backends[name] = &Backend{Name: name, BaseURL: baseURL, Capability: capability, state: HealthUnknown}
}

// Resolve returns the base URL for name, if the backend is known. It does
// not itself check health; callers that care about availability should
// consult Health or IsAvailable first.
func (r *Registry) Resolve(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	if !ok {
		return "", false
	}
	return b.BaseURL, true
}

// Health returns the cached health state for name. If this process has
// never probed the backend itself, it falls back to the shared cache so a
// freshly-started replica doesn't have to wait out a full probe interval.
func (r *Registry) Health(name string) HealthState {
	r.mu.RLock()
	b, ok := r.backends[name]
	r.mu.RUnlock()
	if !ok {
		return HealthUnknown
	}
	state, _ := b.snapshot()
	if state != HealthUnknown {
		return state
	}
	if shared, ok := r.readSharedHealth(name); ok {
		return shared
	}
	return state
}

// IsAvailable reports whether at least one healthy backend offers capability.
func (r *Registry) IsAvailable(capability string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		b := r.backends[name]
		if b.Capability != capability {
			continue
		}
		if state, _ := b.snapshot(); state == HealthHealthy {
			return true
		}
	}
	return false
}

// ResolveCapability returns the base URL of the first healthy backend
// offering capability, preferring the earliest-registered match so callers
// can express "prefer local, fall back to cloud" by registration order.
func (r *Registry) ResolveCapability(capability string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		b := r.backends[name]
		if b.Capability != capability {
			continue
		}
		if state, _ := b.snapshot(); state == HealthHealthy {
			return b.BaseURL, true
		}
	}
	return "", false
}

// Start launches the background health-probe loop. Call Stop to end it.
func (r *Registry) Start(ctx context.Context) {
	go r.probeLoop(ctx)
}

// Stop ends the background probe loop.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Registry) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(r.probeInterval)
	defer ticker.Stop()

	r.probeAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.probeAll(ctx)
		}
	}
}

func (r *Registry) probeAll(ctx context.Context) {
	r.mu.RLock()
	backends := make([]*Backend, 0, len(r.order))
	for _, name := range r.order {
		backends = append(backends, r.backends[name])
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(b *Backend) {
			defer wg.Done()
			r.probeOne(ctx, b)
		}(b)
	}
	wg.Wait()
}

func (r *Registry) probeOne(ctx context.Context, b *Backend) {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, b.BaseURL+"/health", nil)
	if err != nil {
		b.setState(HealthDegraded)
		return
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		b.setState(HealthDegraded)
		if r.logger != nil {
			r.logger.Warn().Str("backend", b.Name).Err(err).Msg("health probe failed")
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		b.setState(HealthHealthy)
	} else {
		b.setState(HealthDegraded)
	}

	state, _ := b.snapshot()
	r.publishSharedHealth(ctx, b.Name, state)
}

func healthCacheKey(name string) string { return "registry:health:" + name }

func (r *Registry) publishSharedHealth(ctx context.Context, name string, state HealthState) {
	if err := r.cache.Set(ctx, healthCacheKey(name), []byte(state), healthCacheTTL); err != nil && r.logger != nil {
		r.logger.Warn().Str("backend", name).Err(err).Msg("failed to publish health state to shared cache")
	}
}

func (r *Registry) readSharedHealth(name string) (HealthState, bool) {
	raw, err := r.cache.Get(context.Background(), healthCacheKey(name))
	if err != nil {
		return "", false
	}
	return HealthState(raw), true
}

// Snapshot returns the current state of every registered backend, for the
// /health API endpoint.
func (r *Registry) Snapshot() []BackendStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]BackendStatus, 0, len(r.order))
	for _, name := range r.order {
		b := r.backends[name]
		state, probedAt := b.snapshot()
		out = append(out, BackendStatus{
			Name:       b.Name,
			Capability: b.Capability,
			State:      state,
			ProbedAt:   probedAt,
		})
	}
	return out
}

// BackendStatus is the externally visible state of one backend.
type BackendStatus struct {
	Name       string      `json:"name"`
	Capability string      `json:"capability"`
	State      HealthState `json:"state"`
	ProbedAt   time.Time   `json:"probed_at"`
}
