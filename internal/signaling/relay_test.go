package signaling

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/nexus-social/internal/metrics"
)

type delivery struct {
	channel string
	event   string
	payload any
}

type fakeRooms struct {
	members    map[string][]string
	deliveries []delivery
}

func (f *fakeRooms) emit(rooms []string, except, event string, payload any) int {
	n := 0
	for _, room := range rooms {
		for _, ch := range f.members[room] {
			if ch == except {
				continue
			}
			f.deliveries = append(f.deliveries, delivery{channel: ch, event: event, payload: payload})
			n++
		}
	}
	return n
}

func (f *fakeRooms) Emit(rooms []string, event string, payload any) int {
	return f.emit(rooms, "", event, payload)
}

func (f *fakeRooms) EmitExcept(rooms []string, except, event string, payload any) int {
	return f.emit(rooms, except, event, payload)
}

func newTestRelay(t *testing.T) (*Relay, *fakeRooms, *metrics.Metrics) {
	rooms := &fakeRooms{members: map[string][]string{
		"1-2": {"ch-1", "ch-2"},
		"1":   {"ch-1"},
		"2":   {"ch-2", "ch-2b"},
	}}
	m := metrics.New(prometheus.NewRegistry())
	return NewRelay(rooms, zaptest.NewLogger(t), m), rooms, m
}

func TestRelayToRoomExcludesSender(t *testing.T) {
	r, rooms, _ := newTestRelay(t)

	sig := Signal{RoomID: "1-2", SenderID: "1", Signal: json.RawMessage(`{"sdp":"offer"}`)}
	assert.Equal(t, DeliveredRoom, r.Relay("ch-1", sig))

	require.Len(t, rooms.deliveries, 1)
	assert.Equal(t, "ch-2", rooms.deliveries[0].channel)
	assert.Equal(t, EventSignal, rooms.deliveries[0].event)
	assert.Equal(t, sig, rooms.deliveries[0].payload)
}

func TestRelayToUserReachesEveryDevice(t *testing.T) {
	r, rooms, _ := newTestRelay(t)

	got := r.Relay("ch-1", Signal{SenderID: "1", TargetUserID: "2", Signal: json.RawMessage(`"candidate"`)})
	assert.Equal(t, DeliveredUser, got)
	assert.Len(t, rooms.deliveries, 2)
}

func TestRelayPrefersRoom(t *testing.T) {
	r, _, _ := newTestRelay(t)

	got := r.Relay("ch-1", Signal{RoomID: "1-2", TargetUserID: "2", SenderID: "1"})
	assert.Equal(t, DeliveredRoom, got)
}

func TestRelayDrops(t *testing.T) {
	r, rooms, m := newTestRelay(t)

	assert.Equal(t, Dropped, r.Relay("ch-1", Signal{SenderID: "1"}))
	assert.Equal(t, Dropped, r.Relay("ch-1", Signal{SenderID: "1", TargetUserID: "9"}))
	assert.Equal(t, Dropped, r.Relay("ch-1", Signal{SenderID: "1", RoomID: "1"}), "only the sender is subscribed")

	assert.Empty(t, rooms.deliveries)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.SignalsDropped))
}

func TestInvite(t *testing.T) {
	r, rooms, _ := newTestRelay(t)

	assert.True(t, r.Invite("1", "2"))
	require.Len(t, rooms.deliveries, 2)
	assert.Equal(t, EventIncomingCall, rooms.deliveries[0].event)
	assert.Equal(t, Invitation{CallerID: "1"}, rooms.deliveries[0].payload)

	assert.False(t, r.Invite("1", "9"))
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "room", DeliveredRoom.String())
	assert.Equal(t, "user", DeliveredUser.String())
	assert.Equal(t, "dropped", Dropped.String())
}
