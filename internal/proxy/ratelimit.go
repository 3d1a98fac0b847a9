package proxy

import (
	"net"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/raaihank/promptguard/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per client IP. The least recently
// seen clients are evicted once MaxClients is reached.
type rateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *lru.Cache[string, *rate.Limiter]
}

func newRateLimiter(cfg config.RateLimitConfig) (*rateLimiter, error) {
	size := cfg.MaxClients
	if size <= 0 {
		size = 10000
	}
	buckets, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, err
	}
	return &rateLimiter{
		limit:   rate.Limit(float64(cfg.RequestsPerMin) / 60.0),
		burst:   cfg.RequestsPerMin,
		buckets: buckets,
	}, nil
}

// Allow reports whether a request from client may proceed
func (rl *rateLimiter) Allow(client string) bool {
	bucket, ok := rl.buckets.Get(client)
	if !ok {
		bucket = rate.NewLimiter(rl.limit, rl.burst)
		// another request may have raced us to the first bucket
		if prev, found, _ := rl.buckets.PeekOrAdd(client, bucket); found {
			bucket = prev
		}
	}
	return bucket.Allow()
}

// rateLimitMiddleware rejects clients that exceed their request budget
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientKey(r)
		if !s.limiter.Allow(client) {
			s.logger.Warn("Rate limit exceeded",
				zap.String("client_ip", client),
				zap.String("request_id", getRequestID(r.Context())))
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey is the first forwarded address, or the peer host without port
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
