package server

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/nexus-social/internal/calls"
	"github.com/Tyrowin/nexus-social/internal/metrics"
)

// attach registers a connection-less client directly, skipping the pumps.
func attach(t *testing.T, h *Hub, userID string) *Client {
	t.Helper()
	c := NewClient(nil, h, userID, "127.0.0.1:1", Options{}, nil)
	h.add(c)
	return c
}

func drain(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestHubAddJoinsUserRoom(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	c := attach(t, h, "1")

	assert.True(t, h.InRoom("1", c.ID()))
	assert.Equal(t, 1, h.RoomSize("1"))
	assert.Equal(t, 1, h.ClientCount())
}

func TestHubJoinIsIdempotent(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	c := attach(t, h, "1")

	assert.True(t, h.Join("g1", c.ID()))
	assert.False(t, h.Join("g1", c.ID()))
	assert.Equal(t, 1, h.RoomSize("g1"))
	assert.False(t, h.Join("g1", "missing-channel"))
}

func TestHubEmitDeliversOncePerChannel(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	a := attach(t, h, "1")
	b := attach(t, h, "2")
	require.True(t, h.Join("g1", a.ID()))
	require.True(t, h.Join("g1", b.ID()))

	n := h.Emit([]string{"1", "2", "g1"}, "ping", map[string]string{"k": "v"})
	assert.Equal(t, 2, n)

	got := drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, "ping", got[0].Event)
	assert.JSONEq(t, `{"k":"v"}`, string(got[0].Data))
	assert.Len(t, drain(t, b), 1)
}

func TestHubEmitExceptSkipsSender(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	a := attach(t, h, "1")
	b := attach(t, h, "2")
	h.Join("1-2", a.ID())
	h.Join("1-2", b.ID())

	assert.Equal(t, 1, h.EmitExcept([]string{"1-2"}, a.ID(), "x", nil))
	assert.Empty(t, drain(t, a))
	assert.Len(t, drain(t, b), 1)
}

func TestHubEmitToEmptyRoom(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	assert.Zero(t, h.Emit([]string{"nobody"}, "x", nil))
}

func TestHubLeaveAndLeaveUser(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	phone := attach(t, h, "1")
	laptop := attach(t, h, "1")
	other := attach(t, h, "2")
	for _, c := range []*Client{phone, laptop, other} {
		h.Join("g1", c.ID())
	}

	h.Leave("g1", phone.ID())
	assert.False(t, h.InRoom("g1", phone.ID()))
	assert.Equal(t, 2, h.RoomSize("g1"))

	h.LeaveUser("g1", "1")
	assert.False(t, h.InRoom("g1", laptop.ID()))
	assert.True(t, h.InRoom("g1", other.ID()))
	assert.True(t, h.InRoom("1", laptop.ID()), "own user room is kept")
}

func TestHubDetachRemovesSubscriptionsAndRunsHook(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := NewHub(zaptest.NewLogger(t), m)

	var mu sync.Mutex
	var gone []string
	h.OnDisconnect(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		gone = append(gone, id)
	})

	c := attach(t, h, "1")
	h.Join("g1", c.ID())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectedClients))

	h.detach([]*Client{c}, "test")
	h.detach([]*Client{c}, "again")

	assert.Zero(t, h.ClientCount())
	assert.Zero(t, h.RoomSize("g1"))
	assert.Zero(t, h.RoomSize("1"))
	assert.False(t, h.Join("g1", c.ID()))
	assert.Zero(t, testutil.ToFloat64(m.ConnectedClients))

	_, open := <-c.send
	assert.False(t, open, "send channel is closed")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gone) == 1 && gone[0] == c.ID()
	}, time.Second, 5*time.Millisecond)
}

func TestHubFullBufferDetachesClient(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	slow := attach(t, h, "1")
	fast := attach(t, h, "1")

	for i := 0; i < sendBuffer; i++ {
		require.Equal(t, 2, h.Emit([]string{"1"}, "fill", i))
		drain(t, fast)
	}

	assert.Equal(t, 1, h.Emit([]string{"1"}, "overflow", nil))
	assert.Equal(t, 1, h.ClientCount())
	assert.False(t, h.InRoom("1", slow.ID()))
	assert.True(t, h.InRoom("1", fast.ID()))
}

func TestHubHas(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	c := attach(t, h, "1")
	assert.True(t, h.Has(c.ID()))

	h.detach([]*Client{c}, "test")
	assert.False(t, h.Has(c.ID()))
}

// A slow consumer evicted by a broadcast can still have a start-call frame in
// flight on its read pump. That frame must not leave a call behind.
func TestCallFromEvictedChannelLeavesNoCall(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	coord := calls.NewCoordinator(h, zaptest.NewLogger(t), nil)
	cleaned := make(chan string, 1)
	h.OnDisconnect(func(id string) {
		coord.Disconnect(id)
		cleaned <- id
	})

	c := attach(t, h, "1")
	h.detach([]*Client{c}, "send buffer full")
	select {
	case <-cleaned:
	case <-time.After(time.Second):
		t.Fatal("disconnect hook did not run")
	}

	assert.Nil(t, coord.Start("1", "2", c.ID()))
	h.detach([]*Client{c}, "unregistered")

	assert.Zero(t, coord.ActiveCalls())
	assert.Nil(t, coord.Snapshot(calls.RoomID("1", "2")))
	assert.Empty(t, coord.RoomsOf(c.ID()))
	assert.Zero(t, h.RoomSize(calls.RoomID("1", "2")))
}

// Same race on join-call: the live peer keeps the call and sees only itself.
func TestJoinFromEvictedChannelIsIgnored(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	coord := calls.NewCoordinator(h, zaptest.NewLogger(t), nil)

	caller := attach(t, h, "1")
	coord.Start("1", "2", caller.ID())
	drain(t, caller)

	callee := attach(t, h, "2")
	h.detach([]*Client{callee}, "send buffer full")

	got := coord.Join("2", "1", callee.ID())
	require.NotNil(t, got)
	assert.Equal(t, []string{"1"}, got.Participants)
	assert.Empty(t, coord.RoomsOf(callee.ID()))

	assert.Nil(t, coord.Leave("1", "2", caller.ID()))
	assert.Zero(t, coord.ActiveCalls())
}

func TestHubShutdownWithoutClients(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	go h.Run()

	require.NoError(t, h.Shutdown(time.Second))

	c := NewClient(nil, h, "1", "", Options{}, nil)
	assert.False(t, h.Register(c), "registration is refused after shutdown")
}
