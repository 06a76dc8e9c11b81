package embedding

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Resilient wraps a provider with a per-call timeout and a bounded retry
// count. When the provider keeps failing the call returns a nil vector and
// the wrapper flips into degraded mode so callers can fall back to
// keyword-only behavior instead of blocking.
type Resilient struct {
	inner    Embedder
	timeout  time.Duration
	retries  int
	degraded atomic.Bool
}

// NewResilient wraps inner. A nil inner means embeddings are disabled and
// every call degrades immediately.
func NewResilient(inner Embedder, timeout time.Duration, retries int) *Resilient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &Resilient{inner: inner, timeout: timeout, retries: retries}
}

// Enabled reports whether a provider is configured at all.
func (r *Resilient) Enabled() bool { return r.inner != nil }

// Degraded reports whether the last provider call failed.
func (r *Resilient) Degraded() bool { return r.degraded.Load() }

// Embed returns the embedding for text, or (nil, nil) when the provider is
// absent or keeps failing. Transient failures are logged, never propagated:
// the write and read paths must proceed keyword-only rather than error out.
func (r *Resilient) Embed(ctx context.Context, text string) (Vector, error) {
	if r.inner == nil {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		vec, err := r.inner.Embed(callCtx, text)
		cancel()
		if err == nil {
			r.degraded.Store(false)
			return vec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}

	r.degraded.Store(true)
	log.Warn("embedder unavailable, continuing keyword-only", "error", lastErr)
	return nil, nil
}

// Dims returns the provider's vector dimension, or 0 when disabled.
func (r *Resilient) Dims() int {
	if r.inner == nil {
		return 0
	}
	return r.inner.Dims()
}
