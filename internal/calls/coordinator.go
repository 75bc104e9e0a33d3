// Package calls owns the table of active peer calls. A call is keyed by the
// deterministic pairing of its two users, and every lifecycle transition on a
// room is serialized and followed by a broadcast of the full call snapshot to
// the room's subscribers.
package calls

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-social/internal/keylock"
	"github.com/Tyrowin/nexus-social/internal/metrics"
)

// EventCallStateUpdate is emitted to a call room after every transition.
const EventCallStateUpdate = "call-state-update"

// Rooms is the part of the connection registry the coordinator needs.
type Rooms interface {
	Join(room, channelID string) bool
	Leave(room, channelID string)
	Has(channelID string) bool
	Emit(rooms []string, event string, payload any) int
}

// Call is the snapshot broadcast to subscribers. Participants and
// Screensharers hold user ids in arrival order.
type Call struct {
	RoomID        string   `json:"roomId"`
	CallerID      string   `json:"callerId"`
	Participants  []string `json:"participants"`
	Screensharers []string `json:"screensharers"`
}

// StateUpdate is the payload of EventCallStateUpdate. Call is nil once the room is gone.
type StateUpdate struct {
	RoomID string `json:"roomId"`
	Call   *Call  `json:"call"`
}

type participant struct {
	userID   string
	channels map[string]struct{}
}

type call struct {
	roomID        string
	callerID      string
	participants  []*participant
	screensharers []string
}

// RoomID derives the call-room identity of two users. It is independent of
// argument order.
func RoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "-" + b
}

// Coordinator implements the call lifecycle state machine.
//
// Lock order: a room lock from locks is always taken before mu or indexMu,
// and mu and indexMu are never held together.
type Coordinator struct {
	rooms   Rooms
	locks   *keylock.Locker
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	calls map[string]*call

	indexMu      sync.Mutex
	channelRooms map[string]map[string]struct{}
}

// NewCoordinator creates a coordinator that broadcasts through rooms.
func NewCoordinator(rooms Rooms, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		rooms:        rooms,
		locks:        keylock.New(),
		logger:       logger.Named("calls"),
		metrics:      m,
		calls:        make(map[string]*call),
		channelRooms: make(map[string]map[string]struct{}),
	}
}

// Start handles start-call: the room is created if absent and the caller's
// channel is added to it.
func (c *Coordinator) Start(callerID, targetUserID, channelID string) *Call {
	roomID := RoomID(callerID, targetUserID)
	unlock := c.locks.Lock(roomID)
	defer unlock()

	cl, created := c.getOrCreate(roomID, callerID)
	if !c.addParticipant(cl, callerID, channelID) {
		return c.dropGone(cl, channelID)
	}
	if created {
		c.logger.Info("call_started", zap.String("room", roomID), zap.String("caller", callerID))
	}
	return c.broadcast(cl)
}

// Join handles join-call. Joining a room that does not exist is ignored and
// returns nil.
func (c *Coordinator) Join(userID, targetUserID, channelID string) *Call {
	roomID := RoomID(userID, targetUserID)
	unlock := c.locks.Lock(roomID)
	defer unlock()

	cl := c.get(roomID)
	if cl == nil {
		c.logger.Info("join_missing_call", zap.String("room", roomID), zap.String("user", userID))
		return nil
	}
	if !c.addParticipant(cl, userID, channelID) {
		return c.dropGone(cl, channelID)
	}
	return c.broadcast(cl)
}

// Leave handles leave-call for one channel of userID. It returns the
// remaining call, or nil when the room was deleted or never existed.
func (c *Coordinator) Leave(userID, targetUserID, channelID string) *Call {
	roomID := RoomID(userID, targetUserID)
	unlock := c.locks.Lock(roomID)
	defer unlock()

	cl := c.get(roomID)
	if cl == nil {
		c.logger.Debug("leave_missing_call", zap.String("room", roomID), zap.String("user", userID))
		return nil
	}
	if !c.removeChannel(cl, channelID) {
		c.rooms.Leave(roomID, channelID)
		return snapshot(cl)
	}
	// the leaving channel still receives this update
	out := c.afterRemoval(cl)
	c.rooms.Leave(roomID, channelID)
	return out
}

// SetScreenshare marks userID as sharing (or no longer sharing) its screen in
// the call with targetUserID. Only current participants may start sharing.
func (c *Coordinator) SetScreenshare(userID, targetUserID string, sharing bool) *Call {
	roomID := RoomID(userID, targetUserID)
	unlock := c.locks.Lock(roomID)
	defer unlock()

	cl := c.get(roomID)
	if cl == nil {
		c.logger.Info("screenshare_missing_call", zap.String("room", roomID), zap.String("user", userID))
		return nil
	}
	if sharing {
		if findParticipant(cl, userID) < 0 {
			c.logger.Info("screenshare_not_participant", zap.String("room", roomID), zap.String("user", userID))
			return snapshot(cl)
		}
		if slices.Contains(cl.screensharers, userID) {
			return snapshot(cl)
		}
		cl.screensharers = append(cl.screensharers, userID)
	} else {
		if !slices.Contains(cl.screensharers, userID) {
			return snapshot(cl)
		}
		cl.screensharers = slices.DeleteFunc(cl.screensharers, func(id string) bool { return id == userID })
	}
	return c.broadcast(cl)
}

// Disconnect removes channelID from every call it takes part in. The reverse
// index makes this proportional to the channel's own calls.
func (c *Coordinator) Disconnect(channelID string) {
	c.indexMu.Lock()
	rooms := make([]string, 0, len(c.channelRooms[channelID]))
	for roomID := range c.channelRooms[channelID] {
		rooms = append(rooms, roomID)
	}
	c.indexMu.Unlock()

	for _, roomID := range rooms {
		c.locks.With(roomID, func() {
			cl := c.get(roomID)
			if cl == nil {
				c.unindex(channelID, roomID)
				return
			}
			if c.removeChannel(cl, channelID) {
				c.afterRemoval(cl)
			}
			c.rooms.Leave(roomID, channelID)
		})
	}
	if len(rooms) > 0 {
		c.logger.Debug("channel_calls_cleaned", zap.String("channel", channelID), zap.Int("rooms", len(rooms)))
	}
}

// Snapshot returns the current state of a call room, or nil.
func (c *Coordinator) Snapshot(roomID string) *Call {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	cl := c.get(roomID)
	if cl == nil {
		return nil
	}
	return snapshot(cl)
}

// ActiveCalls reports how many call rooms exist.
func (c *Coordinator) ActiveCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// RoomsOf returns the call rooms channelID currently takes part in.
func (c *Coordinator) RoomsOf(channelID string) []string {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	out := make([]string, 0, len(c.channelRooms[channelID]))
	for roomID := range c.channelRooms[channelID] {
		out = append(out, roomID)
	}
	slices.Sort(out)
	return out
}

func (c *Coordinator) get(roomID string) *call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[roomID]
}

func (c *Coordinator) getOrCreate(roomID, callerID string) (*call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.calls[roomID]; ok {
		return cl, false
	}
	cl := &call{roomID: roomID, callerID: callerID}
	c.calls[roomID] = cl
	c.metrics.SetActiveCalls(len(c.calls))
	return cl, true
}

func (c *Coordinator) delete(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.calls, roomID)
	c.metrics.SetActiveCalls(len(c.calls))
}

// addParticipant must be called with the room lock held. It reports false,
// recording nothing, when the channel is no longer registered.
//
// The channel is indexed before the registry is consulted: a disconnect
// landing after the check finds the index and waits for the room lock.
func (c *Coordinator) addParticipant(cl *call, userID, channelID string) bool {
	c.index(channelID, cl.roomID)
	c.rooms.Join(cl.roomID, channelID)
	if !c.rooms.Has(channelID) {
		return false
	}

	idx := findParticipant(cl, userID)
	if idx < 0 {
		cl.participants = append(cl.participants, &participant{userID: userID, channels: make(map[string]struct{})})
		idx = len(cl.participants) - 1
	}
	cl.participants[idx].channels[channelID] = struct{}{}
	return true
}

// dropGone purges a channel that disconnected while its call event was in
// flight. It must be called with the room lock held.
func (c *Coordinator) dropGone(cl *call, channelID string) *Call {
	c.logger.Info("call_channel_gone", zap.String("room", cl.roomID), zap.String("channel", channelID))
	if c.removeChannel(cl, channelID) || len(cl.participants) == 0 {
		return c.afterRemoval(cl)
	}
	return snapshot(cl)
}

// removeChannel must be called with the room lock held. It reports whether
// the channel was part of the call. The subscription itself is left to the caller.
func (c *Coordinator) removeChannel(cl *call, channelID string) bool {
	found := false
	for i := 0; i < len(cl.participants); i++ {
		p := cl.participants[i]
		if _, ok := p.channels[channelID]; !ok {
			continue
		}
		found = true
		delete(p.channels, channelID)
		if len(p.channels) == 0 {
			cl.participants = slices.Delete(cl.participants, i, i+1)
			cl.screensharers = slices.DeleteFunc(cl.screensharers, func(id string) bool { return id == p.userID })
			i--
		}
	}
	c.unindex(channelID, cl.roomID)
	return found
}

// afterRemoval deletes an empty call or broadcasts the remaining state.
func (c *Coordinator) afterRemoval(cl *call) *Call {
	if len(cl.participants) > 0 {
		return c.broadcast(cl)
	}
	c.delete(cl.roomID)
	c.logger.Info("call_ended", zap.String("room", cl.roomID))
	n := c.rooms.Emit([]string{cl.roomID}, EventCallStateUpdate, StateUpdate{RoomID: cl.roomID, Call: nil})
	c.metrics.Delivered(n)
	return nil
}

func (c *Coordinator) broadcast(cl *call) *Call {
	snap := snapshot(cl)
	n := c.rooms.Emit([]string{cl.roomID}, EventCallStateUpdate, StateUpdate{RoomID: cl.roomID, Call: snap})
	c.metrics.Delivered(n)
	return snap
}

func (c *Coordinator) index(channelID, roomID string) {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	rooms, ok := c.channelRooms[channelID]
	if !ok {
		rooms = make(map[string]struct{})
		c.channelRooms[channelID] = rooms
	}
	rooms[roomID] = struct{}{}
}

func (c *Coordinator) unindex(channelID, roomID string) {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	rooms, ok := c.channelRooms[channelID]
	if !ok {
		return
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(c.channelRooms, channelID)
	}
}

func findParticipant(cl *call, userID string) int {
	return slices.IndexFunc(cl.participants, func(p *participant) bool { return p.userID == userID })
}

func snapshot(cl *call) *Call {
	out := &Call{
		RoomID:        cl.roomID,
		CallerID:      cl.callerID,
		Participants:  make([]string, 0, len(cl.participants)),
		Screensharers: slices.Clone(cl.screensharers),
	}
	if out.Screensharers == nil {
		out.Screensharers = []string{}
	}
	for _, p := range cl.participants {
		out.Participants = append(out.Participants, p.userID)
	}
	return out
}
