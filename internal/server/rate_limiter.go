package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func newRateLimiter(rl RateLimit) *rate.Limiter {
	every := rl.RefillInterval / time.Duration(rl.Burst)
	return rate.NewLimiter(rate.Every(every), rl.Burst)
}

type pooledLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool keeps one limiter per client address. Idle entries are evicted
// by sweep.
type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*pooledLimiter
	cfg RateLimit
	ttl time.Duration
	now func() time.Time
}

func newLimiterPool(cfg RateLimit) *limiterPool {
	return &limiterPool{
		m:   make(map[string]*pooledLimiter),
		cfg: cfg,
		ttl: 10 * time.Minute,
		now: time.Now,
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		l.lastSeen = p.now()
		return l.limiter
	}
	l := &pooledLimiter{limiter: newRateLimiter(p.cfg), lastSeen: p.now()}
	p.m[key] = l
	return l.limiter
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// sweep drops limiters not used within the TTL and reports how many remain.
func (p *limiterPool) sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-p.ttl)
	for key, l := range p.m {
		if l.lastSeen.Before(cutoff) {
			delete(p.m, key)
		}
	}
	return len(p.m)
}

func (p *limiterPool) run(stop <-chan struct{}) {
	ticker := time.NewTicker(p.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimit rejects requests from addresses that exhausted their bucket.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.httpLimiter.Allow(ip) {
			s.logger.Info("http_rate_limited", zap.String("ip", ip), zap.String("path", r.URL.Path))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
