package social

import (
	"context"
	"strings"

	"github.com/Tyrowin/nexus-social/internal/identity"
)

// Outcome of a friend request that did not fail.
type Outcome string

const (
	// OutcomeRequested means a new pending request was recorded.
	OutcomeRequested Outcome = "requested"
	// OutcomeInversePending means the target already asked the actor; nothing
	// was written and the actor should accept instead.
	OutcomeInversePending Outcome = "inverse_pending"
)

// pair resolves the actor by id and the other user by username against one snapshot.
func pair(users []identity.User, actorID, username string) (int, int, error) {
	a, ok := identity.FindUser(users, actorID)
	if !ok {
		return -1, -1, ErrUserNotFound
	}
	b, ok := identity.FindUsername(users, strings.TrimSpace(username))
	if !ok {
		return -1, -1, ErrUserNotFound
	}
	return a, b, nil
}

// SendFriendRequest records a pending request from actorID to the user named username.
func (s *Service) SendFriendRequest(ctx context.Context, actorID, username string) (Outcome, error) {
	var (
		outcome       Outcome
		actor, target identity.User
	)
	err := s.mutate(ctx, "send_friend_request", func() error {
		snap, err := s.readUsers(ctx)
		if err != nil {
			return err
		}
		users := snap.Items
		a, b, err := pair(users, actorID, username)
		if err != nil {
			return err
		}
		switch {
		case a == b:
			return ErrSelfRequest
		case users[a].HasFriend(users[b].Username):
			return ErrAlreadyFriends
		case users[a].HasSentTo(users[b].Username):
			return ErrRequestAlreadySent
		case users[a].HasReceivedFrom(users[b].Username) || users[b].HasSentTo(users[a].Username):
			outcome = OutcomeInversePending
			return nil
		}

		users[a].SentFriendRequests = identity.AddToSet(users[a].SentFriendRequests, users[b].Username)
		users[b].ReceivedFriendRequests = identity.AddToSet(users[b].ReceivedFriendRequests, users[a].Username)
		if err := s.store.WriteUsers(ctx, snap.Revision, users); err != nil {
			return err
		}
		outcome, actor, target = OutcomeRequested, users[a], users[b]
		return nil
	})
	if err != nil {
		return "", err
	}
	if outcome == OutcomeRequested {
		s.notify([]string{target.ID}, EventNewFriendRequest, friendNotice(actor))
	}
	return outcome, nil
}

// AcceptFriendRequest accepts the pending request that username sent to actorID.
func (s *Service) AcceptFriendRequest(ctx context.Context, actorID, username string) error {
	return s.resolveRequest(ctx, "accept_friend_request", actorID, username, true)
}

// RejectFriendRequest drops the pending request that username sent to actorID.
func (s *Service) RejectFriendRequest(ctx context.Context, actorID, username string) error {
	return s.resolveRequest(ctx, "reject_friend_request", actorID, username, false)
}

func (s *Service) resolveRequest(ctx context.Context, op, actorID, username string, accept bool) error {
	var actor, requester identity.User
	err := s.mutate(ctx, op, func() error {
		snap, err := s.readUsers(ctx)
		if err != nil {
			return err
		}
		users := snap.Items
		a, b, err := pair(users, actorID, username)
		if err != nil {
			return err
		}
		if a == b || !(users[a].HasReceivedFrom(users[b].Username) || users[b].HasSentTo(users[a].Username)) {
			return ErrNoPendingRequest
		}

		clearPending(&users[a], &users[b])
		if accept {
			users[a].Friends = identity.AddToSet(users[a].Friends, users[b].Username)
			users[b].Friends = identity.AddToSet(users[b].Friends, users[a].Username)
		}
		if err := s.store.WriteUsers(ctx, snap.Revision, users); err != nil {
			return err
		}
		actor, requester = users[a], users[b]
		return nil
	})
	if err != nil {
		return err
	}
	event := EventFriendRequestRejected
	if accept {
		event = EventFriendRequestAccepted
	}
	s.notify([]string{requester.ID}, event, friendNotice(actor))
	return nil
}

// CancelFriendRequest withdraws the pending request actorID sent to username.
func (s *Service) CancelFriendRequest(ctx context.Context, actorID, username string) error {
	var actor, target identity.User
	err := s.mutate(ctx, "cancel_friend_request", func() error {
		snap, err := s.readUsers(ctx)
		if err != nil {
			return err
		}
		users := snap.Items
		a, b, err := pair(users, actorID, username)
		if err != nil {
			return err
		}
		if a == b || !(users[a].HasSentTo(users[b].Username) || users[b].HasReceivedFrom(users[a].Username)) {
			return ErrNoPendingRequest
		}
		clearPending(&users[a], &users[b])
		if err := s.store.WriteUsers(ctx, snap.Revision, users); err != nil {
			return err
		}
		actor, target = users[a], users[b]
		return nil
	})
	if err != nil {
		return err
	}
	s.notify([]string{target.ID}, EventFriendRequestCancelled, friendNotice(actor))
	return nil
}

// Unfriend removes the friendship between actorID and username on both sides.
func (s *Service) Unfriend(ctx context.Context, actorID, username string) error {
	var actor, other identity.User
	err := s.mutate(ctx, "unfriend", func() error {
		snap, err := s.readUsers(ctx)
		if err != nil {
			return err
		}
		users := snap.Items
		a, b, err := pair(users, actorID, username)
		if err != nil {
			return err
		}
		if a == b || !(users[a].HasFriend(users[b].Username) || users[b].HasFriend(users[a].Username)) {
			return ErrNotFriends
		}
		users[a].Friends = identity.RemoveFromSet(users[a].Friends, users[b].Username)
		users[b].Friends = identity.RemoveFromSet(users[b].Friends, users[a].Username)
		if err := s.store.WriteUsers(ctx, snap.Revision, users); err != nil {
			return err
		}
		actor, other = users[a], users[b]
		return nil
	})
	if err != nil {
		return err
	}
	s.notify([]string{other.ID}, EventUnfriended, friendNotice(actor))
	return nil
}

// clearPending removes every pending request between a and b in both directions.
func clearPending(a, b *identity.User) {
	a.SentFriendRequests = identity.RemoveFromSet(a.SentFriendRequests, b.Username)
	a.ReceivedFriendRequests = identity.RemoveFromSet(a.ReceivedFriendRequests, b.Username)
	b.SentFriendRequests = identity.RemoveFromSet(b.SentFriendRequests, a.Username)
	b.ReceivedFriendRequests = identity.RemoveFromSet(b.ReceivedFriendRequests, a.Username)
}
