package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{"http://localhost:8080", " HTTPS://App.Example.com ", "not a url", ""}, zaptest.NewLogger(t))

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:8080", true},
		{"https://app.example.com", true},
		{"http://localhost:8081", false},
		{"https://evil.example.com", false},
		{"", false},
		{"null", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, p.check(r), "origin %q", tt.origin)
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	p := newOriginPolicy([]string{"*"}, zaptest.NewLogger(t))

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://anything.example")
	assert.True(t, p.allows(r))

	r.Header.Del("Origin")
	assert.False(t, p.allows(r), "an Origin header is still required")
}

func TestClientRateLimit(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	c := NewClient(nil, h, "1", "", Options{RateLimit: RateLimit{Burst: 3, RefillInterval: time.Hour}}, nil)

	for i := 0; i < 3; i++ {
		assert.True(t, c.checkRateLimit(), "event %d", i)
	}
	assert.False(t, c.checkRateLimit())
}

func TestLimiterPoolPerAddress(t *testing.T) {
	p := newLimiterPool(RateLimit{Burst: 2, RefillInterval: time.Hour})

	assert.True(t, p.Allow("10.0.0.1"))
	assert.True(t, p.Allow("10.0.0.1"))
	assert.False(t, p.Allow("10.0.0.1"))
	assert.True(t, p.Allow("10.0.0.2"), "other addresses have their own bucket")
}

func TestLimiterPoolSweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newLimiterPool(RateLimit{Burst: 1, RefillInterval: time.Second})
	p.now = func() time.Time { return now }

	p.Allow("a")
	now = now.Add(5 * time.Minute)
	p.Allow("b")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, p.sweep())
	p.mu.Lock()
	_, kept := p.m["b"]
	p.mu.Unlock()
	assert.True(t, kept)
}

func TestRateLimitMiddleware(t *testing.T) {
	s := &Server{
		httpLimiter: newLimiterPool(RateLimit{Burst: 1, RefillInterval: time.Hour}),
		logger:      zaptest.NewLogger(t),
	}
	h := s.rateLimit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodPost, "/dashboard/groups", nil)
	r.RemoteAddr = "192.0.2.1:5000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5000"
	assert.Equal(t, "192.0.2.1", clientIP(r))

	r.RemoteAddr = "unix"
	assert.Equal(t, "unix", clientIP(r))
}

func TestSanitizeOptions(t *testing.T) {
	opts := sanitizeOptions(Options{})
	assert.Equal(t, int64(64*1024), opts.MaxMessageSize)
	assert.Equal(t, 20, opts.RateLimit.Burst)
	assert.Equal(t, time.Second, opts.RateLimit.RefillInterval)
	assert.Equal(t, 10, opts.HTTPRateLimit.Burst)
	assert.Equal(t, 5*time.Second, opts.StoreTimeout)
}
