package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/bookqa-go/internal/logging"
)

// Per-client token bucket defaults for the query and ingest routes.
const (
	defaultRateLimit = 10
	defaultRateBurst = 20
)

// staleAfter is how long an idle bucket is kept.
const staleAfter = 5 * time.Minute

// bucketKey identifies one token bucket: a route class seen from one client.
// Queries and uploads are throttled independently, so a client busy asking
// questions can still upload a book.
type bucketKey struct {
	// class is the route class passed to middleware ("query", "ingest").
	class string
	// ip is the client address without port.
	ip string
}

// bucket is a token bucket and the last time it was used.
type bucket struct {
	// limiter is the token bucket.
	limiter *rate.Limiter
	// lastSeen is refreshed on every request and drives eviction.
	lastSeen time.Time
}

// rateLimiter throttles requests per client and route class. Idle buckets
// are dropped by a background sweep so the map stays bounded.
type rateLimiter struct {
	// mu guards buckets.
	mu sync.Mutex
	// buckets holds one token bucket per (class, ip).
	buckets map[bucketKey]*bucket
	// rps is the sustained rate per bucket.
	rps rate.Limit
	// burst is the bucket capacity.
	burst int
	// rejected counts 429 replies by class; nil disables counting.
	rejected *prometheus.CounterVec
	// log records rejections.
	log *slog.Logger
}

// newRateLimiter starts the eviction loop and returns the limiter with the
// function that stops it.
func newRateLimiter(rps float64, burst int, rejected *prometheus.CounterVec, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets:  make(map[bucketKey]*bucket),
		rps:      rate.Limit(rps),
		burst:    burst,
		rejected: rejected,
		log:      log,
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				rl.evict(now)
			}
		}
	}()

	return rl, func() { close(done) }
}

// limiterFor returns the bucket of key, creating it on first use.
func (rl *rateLimiter) limiterFor(key bucketKey, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// evict drops buckets idle for longer than staleAfter as of now.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-staleAfter)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// retryAfter reserves a token to learn when the next one is due, then
// gives it back. The result is whole seconds, at least 1.
func retryAfter(lim *rate.Limiter, now time.Time) int {
	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return 1
	}
	delay := res.DelayFrom(now)
	res.CancelAt(now)
	return max(1, int(math.Ceil(delay.Seconds())))
}

// middleware throttles next under the given route class. Rejected requests
// get 429, a Retry-After header and a JSON error line.
func (rl *rateLimiter) middleware(class string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		ip := clientIP(r)
		lim := rl.limiterFor(bucketKey{class: class, ip: ip}, now)

		if !lim.AllowN(now, 1) {
			wait := retryAfter(lim, now)
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("class", class),
				slog.Int("retry_after_s", wait),
			)
			if rl.rejected != nil {
				rl.rejected.WithLabelValues(class).Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(wait))
			writeJSON(w, r, http.StatusTooManyRequests, errorResponse{
				Error: "Demasiadas solicitudes. Inténtelo de nuevo en unos segundos.",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP returns the remote address without its port. X-Forwarded-For is
// not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
