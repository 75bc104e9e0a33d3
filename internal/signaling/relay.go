// Package signaling forwards opaque peer-connection negotiation payloads
// between call participants. Payload contents are never inspected.
package signaling

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-social/internal/metrics"
)

const (
	// EventSignal carries negotiation data in both directions.
	EventSignal = "webrtc-signal"
	// EventIncomingCall tells a user that someone is calling them.
	EventIncomingCall = "incoming-call"
)

// Rooms is the part of the connection registry the relay needs.
type Rooms interface {
	Emit(rooms []string, event string, payload any) int
	EmitExcept(rooms []string, exceptChannelID, event string, payload any) int
}

// Signal is one negotiation message. Exactly one of RoomID and TargetUserID
// addresses it; RoomID wins when both are set.
type Signal struct {
	RoomID       string          `json:"roomId,omitempty"`
	SenderID     string          `json:"senderId"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	Signal       json.RawMessage `json:"signal"`
}

// Invitation is the payload of EventIncomingCall.
type Invitation struct {
	CallerID string `json:"callerId"`
}

// Result describes where a signal went.
type Result int

const (
	Dropped Result = iota
	DeliveredRoom
	DeliveredUser
)

func (r Result) String() string {
	switch r {
	case DeliveredRoom:
		return "room"
	case DeliveredUser:
		return "user"
	default:
		return "dropped"
	}
}

// Relay is a fire-and-forget signal forwarder.
type Relay struct {
	rooms   Rooms
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewRelay(rooms Rooms, logger *zap.Logger, m *metrics.Metrics) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{rooms: rooms, logger: logger.Named("signaling"), metrics: m}
}

// Relay forwards sig from the channel senderChannelID. A room target reaches
// every other subscriber of the room; a user target reaches all of that
// user's channels. Nothing reachable means the signal is dropped.
func (r *Relay) Relay(senderChannelID string, sig Signal) Result {
	switch {
	case sig.RoomID != "":
		n := r.rooms.EmitExcept([]string{sig.RoomID}, senderChannelID, EventSignal, sig)
		if n == 0 {
			return r.drop("room_empty", sig)
		}
		r.metrics.Delivered(n)
		return DeliveredRoom
	case sig.TargetUserID != "":
		n := r.rooms.Emit([]string{sig.TargetUserID}, EventSignal, sig)
		if n == 0 {
			return r.drop("target_offline", sig)
		}
		r.metrics.Delivered(n)
		return DeliveredUser
	default:
		return r.drop("no_destination", sig)
	}
}

func (r *Relay) drop(reason string, sig Signal) Result {
	r.logger.Info("signal_dropped",
		zap.String("reason", reason),
		zap.String("sender", sig.SenderID),
		zap.String("room", sig.RoomID),
		zap.String("target", sig.TargetUserID))
	r.metrics.SignalDropped()
	return Dropped
}

// Invite notifies targetUserID of an incoming call from callerID. It reports
// whether any channel of the target was online.
func (r *Relay) Invite(callerID, targetUserID string) bool {
	n := r.rooms.Emit([]string{targetUserID}, EventIncomingCall, Invitation{CallerID: callerID})
	if n == 0 {
		r.logger.Info("invite_target_offline", zap.String("caller", callerID), zap.String("target", targetUserID))
		return false
	}
	r.metrics.Delivered(n)
	return true
}
