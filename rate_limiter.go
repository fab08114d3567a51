package solclash

import (
	"context"
	"expvar"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Limiter is a minimal interface implemented by rate limiters.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucketLimiter implements a simple token bucket rate limiter.
type TokenBucketLimiter struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
}

// NewTokenBucketLimiter constructs a limiter that issues up to rate tokens per second
// with the provided burst capacity.
func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		panic("rate must be positive")
	}
	if burst <= 0 {
		panic("burst must be positive")
	}
	return &TokenBucketLimiter{
		rate:     rate,
		capacity: float64(burst),
		tokens:   float64(burst),
		last:     time.Now(),
	}
}

// Wait blocks until a single token is available or the context is cancelled.
func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := time.Now()
		l.refill(now)

		if l.tokens >= 1 {
			l.tokens--
			return nil
		}

		needed := (1 - l.tokens) / l.rate
		waitDuration := time.Duration(needed * float64(time.Second))
		if waitDuration <= 0 {
			waitDuration = time.Millisecond
		}

		timer := time.NewTimer(waitDuration)
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			timer.Stop()
			l.mu.Lock()
			return ctx.Err()
		case <-timer.C:
		}
		l.mu.Lock()
	}
}

func (l *TokenBucketLimiter) refill(now time.Time) {
	elapsed := now.Sub(l.last)
	if elapsed <= 0 {
		return
	}
	l.tokens += l.rate * elapsed.Seconds()
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.last = now
}

// RateLimitedTransport wraps a RoundTripper with a limiter.
type RateLimitedTransport struct {
	Limiter Limiter
	Base    http.RoundTripper
}

// RoundTrip waits for the limiter before delegating to the base transport.
func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return t.base().RoundTrip(req)
}

func (t *RateLimitedTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

type rateLimitConfig struct {
	rate  float64
	burst int
}

// upstreamRateLimits caps in-flight request rates per external host.
// Values sit below each service's published free-tier limits.
var upstreamRateLimits = map[string]rateLimitConfig{
	"api.mainnet-beta.solana.com": {rate: 5, burst: 5},
	"api.helius.xyz":              {rate: 4, burst: 4},
	"api.dexscreener.com":         {rate: 4, burst: 4},
	"price.jup.ag":                {rate: 2, burst: 2},
}

// limiterRegistry hands out one shared limiter per host. Each Gateway owns
// its own registry; there is no package-level limiter state.
type limiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]Limiter
}

func newLimiterRegistry() *limiterRegistry {
	return &limiterRegistry{
		limiters: make(map[string]Limiter),
	}
}

func (r *limiterRegistry) forEndpoint(endpoint string) Limiter {
	host := hostFromEndpoint(endpoint)
	if host == "" {
		return nil
	}
	cfg, ok := upstreamRateLimits[host]
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.limiters[host]; ok {
		return limiter
	}
	limiter := NewTokenBucketLimiter(cfg.rate, cfg.burst)
	r.limiters[host] = limiter
	return limiter
}

func hostFromEndpoint(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// newUpstreamHTTPClient builds the http.Client used for a given upstream
// endpoint: response codes are counted into the external metrics map and
// requests pass through the per-host limiter.
func newUpstreamHTTPClient(endpoint string, registry *limiterRegistry, timeout time.Duration, counter *expvar.Map) *http.Client {
	transport := http.RoundTripper(http.DefaultTransport)
	if counter != nil {
		transport = &metricsTransport{Base: transport, Counter: counter}
	}
	if registry != nil {
		if limiter := registry.forEndpoint(endpoint); limiter != nil {
			transport = &RateLimitedTransport{Limiter: limiter, Base: transport}
		}
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
