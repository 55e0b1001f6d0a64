package backends

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/concordlab/concord/internal/metrics"
)

// Registry routes model identifiers to concrete backends and applies
// per-model rate limits before each invocation. It implements ModelBackend
// itself, so the orchestrator fans out through a single registry.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]ModelBackend
	fallback ModelBackend
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// NewRegistry creates an empty registry. fallback handles models without an
// explicit registration and may be nil.
func NewRegistry(fallback ModelBackend, logger *zap.Logger) *Registry {
	return &Registry{
		backends: make(map[string]ModelBackend),
		fallback: fallback,
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

// Register binds a model identifier to a backend, replacing any previous
// binding.
func (r *Registry) Register(modelID string, backend ModelBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[modelID] = backend
}

// SetRateLimit installs a token-bucket limiter for modelID. A non-positive
// perSecond removes the limit.
func (r *Registry) SetRateLimit(modelID string, perSecond float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if perSecond <= 0 {
		delete(r.limiters, modelID)
		return
	}
	if burst < 1 {
		burst = 1
	}
	r.limiters[modelID] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Invoke resolves the backend for modelID, waits for rate-limit headroom,
// and delegates. Every error is returned to the caller as data; the
// orchestrator records it as a failed attempt.
func (r *Registry) Invoke(ctx context.Context, modelID, prompt string) (string, error) {
	r.mu.RLock()
	backend, ok := r.backends[modelID]
	if !ok {
		backend = r.fallback
	}
	limiter := r.limiters[modelID]
	r.mu.RUnlock()

	if backend == nil {
		metrics.BackendInvocations.WithLabelValues(modelID, "error").Inc()
		return "", fmt.Errorf("no backend registered for model %q", modelID)
	}

	// Allow consumes a token when one is free; otherwise block until the
	// bucket refills or the context ends.
	if limiter != nil && !limiter.Allow() {
		metrics.BackendRateLimited.WithLabelValues(modelID).Inc()
		if err := limiter.Wait(ctx); err != nil {
			metrics.BackendInvocations.WithLabelValues(modelID, "error").Inc()
			return "", fmt.Errorf("rate limit wait for model %q: %w", modelID, err)
		}
	}

	start := time.Now()
	text, err := backend.Invoke(ctx, modelID, prompt)
	metrics.BackendLatency.WithLabelValues(modelID).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendInvocations.WithLabelValues(modelID, "error").Inc()
		r.logger.Warn("Backend invocation failed",
			zap.String("model", modelID),
			zap.Error(err),
		)
		return "", err
	}
	metrics.BackendInvocations.WithLabelValues(modelID, "ok").Inc()
	return text, nil
}
