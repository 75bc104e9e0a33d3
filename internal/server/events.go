package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/nexus-social/internal/chat"
	"github.com/Tyrowin/nexus-social/internal/signaling"
)

// Inbound event names.
const (
	EventJoinRoom         = "joinRoom"
	EventStartCall        = "start-call"
	EventJoinCall         = "join-call"
	EventLeaveCall        = "leave-call"
	EventScreenshareStart = "screenshare-start"
	EventScreenshareStop  = "screenshare-stop"
	EventChatMessage      = chat.EventMessage
	EventSignal           = signaling.EventSignal
)

var (
	errUnknownEvent = errors.New("unknown event")
	errInvalidEvent = errors.New("invalid event payload")
)

// inboundEvent is a decoded, validated inbound payload.
type inboundEvent interface {
	Validate() error
}

// JoinRoom accepts either a bare string id or {"roomId": id}.
type JoinRoom struct {
	RoomID string `json:"roomId"`
}

func (e *JoinRoom) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.RoomID)
	}
	var obj struct {
		RoomID string `json:"roomId"`
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.RoomID = obj.RoomID
	if e.RoomID == "" {
		e.RoomID = obj.UserID
	}
	return nil
}

func (e *JoinRoom) Validate() error {
	return required("roomId", e.RoomID)
}

type StartCall struct {
	CallerID     string `json:"callerId"`
	TargetUserID string `json:"targetUserId"`
}

func (e *StartCall) Validate() error {
	if err := required("callerId", e.CallerID); err != nil {
		return err
	}
	if err := required("targetUserId", e.TargetUserID); err != nil {
		return err
	}
	if e.CallerID == e.TargetUserID {
		return fmt.Errorf("%w: cannot call yourself", errInvalidEvent)
	}
	return nil
}

// CallAction is the payload of join-call, leave-call and the screenshare events.
type CallAction struct {
	UserID       string `json:"userId"`
	TargetUserID string `json:"targetUserId"`
}

func (e *CallAction) Validate() error {
	if err := required("userId", e.UserID); err != nil {
		return err
	}
	return required("targetUserId", e.TargetUserID)
}

type ChatEvent struct {
	chat.Message
}

func (e *ChatEvent) Validate() error {
	if err := required("senderId", e.SenderID); err != nil {
		return err
	}
	if (e.ReceiverID == "") == (e.GroupID == "") {
		return fmt.Errorf("%w: exactly one of receiverId and groupId is required", errInvalidEvent)
	}
	return required("content", e.Content)
}

type SignalEvent struct {
	signaling.Signal
}

func (e *SignalEvent) Validate() error {
	if err := required("senderId", e.SenderID); err != nil {
		return err
	}
	if e.RoomID == "" && e.TargetUserID == "" {
		return fmt.Errorf("%w: roomId or targetUserId is required", errInvalidEvent)
	}
	if len(bytes.TrimSpace(e.Signal.Signal)) == 0 {
		return fmt.Errorf("%w: signal is required", errInvalidEvent)
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", errInvalidEvent, field)
	}
	return nil
}

func newInbound(event string) (inboundEvent, bool) {
	switch event {
	case EventJoinRoom:
		return &JoinRoom{}, true
	case EventStartCall:
		return &StartCall{}, true
	case EventJoinCall, EventLeaveCall, EventScreenshareStart, EventScreenshareStop:
		return &CallAction{}, true
	case EventChatMessage:
		return &ChatEvent{}, true
	case EventSignal:
		return &SignalEvent{}, true
	default:
		return nil, false
	}
}

// decodeEvent parses a frame and validates its payload. The event name is
// returned even when decoding fails so it can be logged.
func decodeEvent(raw []byte) (string, inboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	ev, ok := newInbound(env.Event)
	if !ok {
		return env.Event, nil, fmt.Errorf("%w: %q", errUnknownEvent, env.Event)
	}
	if len(env.Data) == 0 {
		return env.Event, nil, fmt.Errorf("%w: missing data", errInvalidEvent)
	}
	if err := json.Unmarshal(env.Data, ev); err != nil {
		return env.Event, nil, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return env.Event, nil, err
	}
	return env.Event, ev, nil
}
