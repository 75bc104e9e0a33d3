package server_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-social/internal/calls"
	"github.com/Tyrowin/nexus-social/internal/chat"
	"github.com/Tyrowin/nexus-social/internal/identity"
	"github.com/Tyrowin/nexus-social/internal/metrics"
	"github.com/Tyrowin/nexus-social/internal/server"
	"github.com/Tyrowin/nexus-social/internal/signaling"
	"github.com/Tyrowin/nexus-social/internal/social"
	"github.com/Tyrowin/nexus-social/internal/testutil"
)

const wait = 2 * time.Second

type harness struct {
	url    string
	srv    *server.Server
	hub    *server.Hub
	calls  *calls.Coordinator
	graph  *social.Service
	msgLog *chat.MemoryLog
}

// Users 1 and 2 are friends, 3 and 4 are strangers to everyone, and group g1
// holds 1, 2 and 3.
func seed() ([]identity.User, []identity.GroupChat) {
	users := []identity.User{
		{ID: "1", Username: "u1", Friends: []string{"u2"}, GroupChats: []string{"g1"}},
		{ID: "2", Username: "u2", Friends: []string{"u1"}, GroupChats: []string{"g1"}},
		{ID: "3", Username: "u3", GroupChats: []string{"g1"}},
		{ID: "4", Username: "u4"},
	}
	groups := []identity.GroupChat{
		{ID: "g1", Name: "crew", Participants: []string{"1", "2", "3"}, CreatorID: "1"},
	}
	return users, groups
}

func newHarness(t *testing.T, tweak func(*server.Options)) *harness {
	t.Helper()
	// channel goroutines may outlive the test, which zaptest does not allow
	logger := zap.NewNop()
	m := metrics.New(prometheus.NewRegistry())

	store := identity.NewMemoryStore(logger)
	users, groups := seed()
	require.NoError(t, store.Seed(context.Background(), users, groups))

	hub := server.NewHub(logger, m)
	coordinator := calls.NewCoordinator(hub, logger, m)
	graph := social.NewService(store, hub, social.Options{Logger: logger, Metrics: m})
	msgLog := chat.NewMemoryLog()
	router := chat.NewRouter(hub, chat.Options{Log: msgLog, Members: graph, Logger: logger, Metrics: m})

	opts := server.Options{
		AllowedOrigins: []string{testutil.TestOrigin},
		HTTPRateLimit:  server.RateLimit{Burst: 1000, RefillInterval: time.Second},
	}
	if tweak != nil {
		tweak(&opts)
	}

	srv := server.New(hub, server.Deps{
		Calls:   coordinator,
		Relay:   signaling.NewRelay(hub, logger, m),
		Chat:    router,
		Social:  graph,
		Logger:  logger,
		Metrics: m,
	}, opts)
	srv.Start()

	ts := httptest.NewServer(srv.SetupRoutes(nil))
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(time.Second)
	})

	return &harness{url: ts.URL, srv: srv, hub: hub, calls: coordinator, graph: graph, msgLog: msgLog}
}

// connect dials as each user in turn and waits until the hub has them all.
func (h *harness) connect(t *testing.T, userIDs ...string) []*websocket.Conn {
	t.Helper()
	before := h.hub.ClientCount()
	out := make([]*websocket.Conn, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, testutil.DialAs(t, h.url, id))
	}
	testutil.Eventually(t, func() bool {
		return h.hub.ClientCount() == before+len(userIDs)
	}, wait, "clients registered")
	return out
}

// join subscribes conn to room and waits for the hub to record it.
func (h *harness) join(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	before := h.hub.RoomSize(room)
	testutil.Send(t, conn, server.EventJoinRoom, room)
	testutil.Eventually(t, func() bool {
		return h.hub.RoomSize(room) == before+1
	}, wait, "room joined")
}
