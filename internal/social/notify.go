package social

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-social/internal/identity"
)

// Notification event names.
const (
	EventNewFriendRequest       = "newFriendRequest"
	EventFriendRequestAccepted  = "friendRequestAccepted"
	EventFriendRequestRejected  = "friendRequestRejected"
	EventFriendRequestCancelled = "friendRequestCancelled"
	EventUnfriended             = "unfriended"
	EventNewGroupChat           = "newGroupChat"
	EventGroupMembersAdded      = "groupChatMembersAdded"
	EventGroupMemberLeft        = "groupChatMemberLeft"
	EventGroupRenamed           = "groupChatRenamed"
	EventGroupPictureUpdated    = "groupChatPictureUpdated"
)

// Notifier delivers events to online users through the connection registry.
type Notifier interface {
	Emit(rooms []string, event string, payload any) int
}

// Unsubscriber is implemented by registries that can drop every channel of a
// user from a room.
type Unsubscriber interface {
	LeaveUser(room, userID string)
}

// FriendNotice identifies the user who acted on a friendship.
type FriendNotice struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type GroupNotice struct {
	Group identity.GroupChat `json:"group"`
}

type MembersAddedNotice struct {
	GroupID   string   `json:"groupId"`
	MemberIDs []string `json:"memberIds"`
	AddedBy   string   `json:"addedBy"`
}

type MemberLeftNotice struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

type GroupRenamedNotice struct {
	GroupID string `json:"groupId"`
	Name    string `json:"name"`
}

type GroupPictureNotice struct {
	GroupID string `json:"groupId"`
	Picture string `json:"picture"`
}

func friendNotice(u identity.User) FriendNotice {
	return FriendNotice{UserID: u.ID, Username: u.Username}
}

func (s *Service) notify(rooms []string, event string, payload any) {
	if s.notifier == nil || len(rooms) == 0 {
		return
	}
	n := s.notifier.Emit(rooms, event, payload)
	s.metrics.Notified(event)
	s.logger.Debug("notification_sent", zap.String("event", event), zap.Strings("rooms", rooms), zap.Int("channels", n))
}

func (s *Service) unsubscribe(room, userID string) {
	if u, ok := s.notifier.(Unsubscriber); ok {
		u.LeaveUser(room, userID)
	}
}
