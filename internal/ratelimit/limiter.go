// Package ratelimit provides a per-host registry combining a concurrency cap
// with token-bucket pacing, used for all outbound Parliament API calls.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Config holds registry-wide limits applied to every host.
type Config struct {
	// MaxInflight caps concurrent in-flight requests per host.
	MaxInflight int
	// RPS is the sustained request rate per host. The published Parliament
	// guidance works out to roughly 5/s, i.e. a ~200ms inter-request gap.
	RPS float64
	// Burst for the token bucket; defaults to 1 so the gap is enforced
	// between every pair of requests.
	Burst int
}

type hostEntry struct {
	sem    chan struct{}
	pacer  *rate.Limiter
}

// Registry manages per-host limiters, created lazily on first use and shared
// by every caller targeting that host. Safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	hosts map[string]*hostEntry
	cfg   Config
}

// New constructs a Registry.
func New(cfg Config) *Registry {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Registry{
		hosts: make(map[string]*hostEntry),
		cfg:   cfg,
	}
}

// Acquire blocks until the host has both a free concurrency slot and a pacing
// token, or the context ends. On success the returned release function must be
// called once the request completes.
func (r *Registry) Acquire(ctx context.Context, host string) (release func(), err error) {
	entry := r.entry(host)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire slot for %s: %w", host, ctx.Err())
	}

	if err := entry.pacer.Wait(ctx); err != nil {
		<-entry.sem
		return nil, fmt.Errorf("pace request for %s: %w", host, err)
	}

	return func() { <-entry.sem }, nil
}

func (r *Registry) entry(host string) *hostEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.hosts[host]
	if !ok {
		lim := rate.Limit(r.cfg.RPS)
		if r.cfg.RPS <= 0 {
			lim = rate.Inf
		}
		e = &hostEntry{
			sem:   make(chan struct{}, r.cfg.MaxInflight),
			pacer: rate.NewLimiter(lim, r.cfg.Burst),
		}
		r.hosts[host] = e
	}
	return e
}
