// Package chat routes direct and group messages to their recipients and
// keeps a durable per-conversation log.
package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/nexus-social/internal/calls"
)

// EventMessage is used for chat messages in both directions.
const EventMessage = "chat message"

const (
	TypeText  = "text"
	TypeMedia = "media"
)

// ErrInvalidMessage is wrapped by every validation failure.
var ErrInvalidMessage = errors.New("chat: invalid message")

// Message is one chat entry. Exactly one of ReceiverID and GroupID is set.
type Message struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	Type       string `json:"type"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

// IsGroup reports whether the message is addressed to a group.
func (m Message) IsGroup() bool {
	return m.GroupID != ""
}

// Conversation returns the log key of the message: the group id, or the
// call-room identity of the two DM users.
func (m Message) Conversation() string {
	if m.IsGroup() {
		return m.GroupID
	}
	return calls.RoomID(m.SenderID, m.ReceiverID)
}

// normalize validates m and fills in defaults. now stamps messages without a timestamp.
func normalize(m Message, now time.Time) (Message, error) {
	if m.SenderID == "" {
		return m, fmt.Errorf("%w: senderId is required", ErrInvalidMessage)
	}
	if (m.ReceiverID == "") == (m.GroupID == "") {
		return m, fmt.Errorf("%w: exactly one of receiverId and groupId is required", ErrInvalidMessage)
	}
	if m.Type == "" {
		m.Type = TypeText
	}
	if m.Type != TypeText && m.Type != TypeMedia {
		return m, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	if m.Content == "" {
		return m, fmt.Errorf("%w: content is empty", ErrInvalidMessage)
	}
	if m.Timestamp == "" {
		m.Timestamp = now.UTC().Format(time.RFC3339Nano)
	} else if _, err := time.Parse(time.RFC3339Nano, m.Timestamp); err != nil {
		return m, fmt.Errorf("%w: timestamp: %v", ErrInvalidMessage, err)
	}
	return m, nil
}

// timeOf parses the message timestamp; unparsable values sort first.
func timeOf(m Message) time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}
