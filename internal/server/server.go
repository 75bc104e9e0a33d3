package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-social/internal/calls"
	"github.com/Tyrowin/nexus-social/internal/chat"
	"github.com/Tyrowin/nexus-social/internal/metrics"
	"github.com/Tyrowin/nexus-social/internal/signaling"
	"github.com/Tyrowin/nexus-social/internal/social"
)

// Deps are the components the server dispatches to.
type Deps struct {
	Calls   *calls.Coordinator
	Relay   *signaling.Relay
	Chat    *chat.Router
	Social  *social.Service
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server owns the websocket endpoint and the HTTP surface around the hub.
type Server struct {
	hub         *Hub
	calls       *calls.Coordinator
	relay       *signaling.Relay
	chat        *chat.Router
	social      *social.Service
	auth        *Authenticator
	origins     *originPolicy
	httpLimiter *limiterPool
	upgrader    websocket.Upgrader
	opts        Options
	logger      *zap.Logger
	metrics     *metrics.Metrics

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds a server around hub. Channels that disconnect are removed from
// their calls.
func New(hub *Hub, deps Deps, opts Options) *Server {
	opts = sanitizeOptions(opts)
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server")

	s := &Server{
		hub:         hub,
		calls:       deps.Calls,
		relay:       deps.Relay,
		chat:        deps.Chat,
		social:      deps.Social,
		auth:        NewAuthenticator(opts.JWTSecret),
		origins:     newOriginPolicy(opts.AllowedOrigins, logger),
		httpLimiter: newLimiterPool(opts.HTTPRateLimit),
		opts:        opts,
		logger:      logger,
		metrics:     deps.Metrics,
		stop:        make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	if s.calls != nil {
		hub.OnDisconnect(s.calls.Disconnect)
	}
	if s.auth.DevMode() {
		logger.Warn("auth_dev_mode", zap.String("hint", "no JWT secret configured; X-User-ID is trusted"))
	}
	return s
}

// Hub returns the connection registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub loop and background maintenance.
func (s *Server) Start() {
	go s.hub.Run()
	go s.httpLimiter.run(s.stop)
	s.logger.Info("hub_started")
}

// Shutdown stops background work and closes every channel.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.hub.Shutdown(timeout)
}
