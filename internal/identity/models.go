// Package identity is the client side of the external Identity Store: the
// User and GroupChat documents, the document transport, and revisioned
// read-all / write-all access to both collections.
package identity

import (
	"slices"
	"strings"
	"time"
)

// User is one entry of the users document. Password and ProfilePicture are
// owned by other subsystems and only carried through writes unchanged.
type User struct {
	ID                     string   `json:"id"`
	Email                  string   `json:"email"`
	Username               string   `json:"username"`
	Password               string   `json:"password,omitempty"`
	ProfilePicture         string   `json:"profilepicture,omitempty"`
	Friends                []string `json:"friends"`
	SentFriendRequests     []string `json:"sentFriendRequests"`
	ReceivedFriendRequests []string `json:"receivedFriendRequests"`
	GroupChats             []string `json:"groupChats"`
}

// GroupChat is one entry of the group chats document.
type GroupChat struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants"`
	CreatorID    string    `json:"creatorId"`
	CreatedAt    time.Time `json:"createdAt"`
	Picture      string    `json:"picture,omitempty"`
}

// Clone returns a deep copy so callers can mutate without touching a snapshot.
func (u User) Clone() User {
	u.Friends = slices.Clone(u.Friends)
	u.SentFriendRequests = slices.Clone(u.SentFriendRequests)
	u.ReceivedFriendRequests = slices.Clone(u.ReceivedFriendRequests)
	u.GroupChats = slices.Clone(u.GroupChats)
	return u
}

// Clone returns a deep copy of the group.
func (g GroupChat) Clone() GroupChat {
	g.Participants = slices.Clone(g.Participants)
	return g
}

// HasFriend reports whether username is in the friends set (case-insensitive).
func (u User) HasFriend(username string) bool {
	return containsFold(u.Friends, username)
}

// HasSentTo reports whether u has a pending outgoing request to username.
func (u User) HasSentTo(username string) bool {
	return containsFold(u.SentFriendRequests, username)
}

// HasReceivedFrom reports whether u has a pending incoming request from username.
func (u User) HasReceivedFrom(username string) bool {
	return containsFold(u.ReceivedFriendRequests, username)
}

// InGroup reports whether groupID is in the user's group list.
func (u User) InGroup(groupID string) bool {
	return slices.Contains(u.GroupChats, groupID)
}

// HasParticipant reports whether userID is a member of the group.
func (g GroupChat) HasParticipant(userID string) bool {
	return slices.Contains(g.Participants, userID)
}

// AddToSet appends v unless an equal (case-insensitive) value is present.
func AddToSet(set []string, v string) []string {
	if containsFold(set, v) {
		return set
	}
	return append(set, v)
}

// RemoveFromSet drops every value equal to v (case-insensitive).
func RemoveFromSet(set []string, v string) []string {
	return slices.DeleteFunc(set, func(s string) bool {
		return strings.EqualFold(s, v)
	})
}

func containsFold(set []string, v string) bool {
	return slices.ContainsFunc(set, func(s string) bool {
		return strings.EqualFold(s, v)
	})
}
