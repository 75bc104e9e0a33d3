package server

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-social/internal/chat"
)

// Outcome labels recorded per inbound event.
const (
	outcomeOK        = "ok"
	outcomeInvalid   = "invalid"
	outcomeForbidden = "forbidden"
	outcomeError     = "error"
)

var errForbidden = errors.New("forbidden")

// dispatch decodes one inbound frame and hands it to the owning component.
// Nothing is returned to the sender on failure; the frame is logged and dropped.
func (s *Server) dispatch(c *Client, raw []byte) {
	name, ev, err := decodeEvent(raw)
	if err != nil {
		c.logger.Info("event_rejected", zap.String("event", name), zap.Error(err))
		s.metrics.Event(label(name), outcomeInvalid)
		return
	}

	switch e := ev.(type) {
	case *JoinRoom:
		err = s.joinRoom(c, e.RoomID)
	case *StartCall:
		err = s.startCall(c, e)
	case *CallAction:
		err = s.callAction(c, name, e)
	case *ChatEvent:
		err = s.chatMessage(c, e)
	case *SignalEvent:
		err = s.signal(c, e)
	}

	outcome := outcomeOK
	switch {
	case err == nil:
	case errors.Is(err, errForbidden):
		outcome = outcomeForbidden
		c.logger.Warn("event_forbidden", zap.String("event", name), zap.Error(err))
	case errors.Is(err, chat.ErrInvalidMessage):
		outcome = outcomeInvalid
		c.logger.Info("event_rejected", zap.String("event", name), zap.Error(err))
	default:
		outcome = outcomeError
		c.logger.Error("event_failed", zap.String("event", name), zap.Error(err))
	}
	s.metrics.Event(name, outcome)
}

// label keeps unknown event names out of metric labels.
func label(name string) string {
	if _, ok := newInbound(name); ok {
		return name
	}
	return "unknown"
}

// asSelf rejects payloads that claim to act for another user.
func asSelf(c *Client, userID string) error {
	if userID != c.userID {
		return errForbidden
	}
	return nil
}

func (s *Server) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opts.StoreTimeout)
}

// joinRoom subscribes the channel to its own user room or to a group it
// participates in. Call rooms are joined through the call events.
func (s *Server) joinRoom(c *Client, room string) error {
	if room == c.userID {
		s.hub.Join(room, c.id)
		return nil
	}
	if s.social == nil {
		return errForbidden
	}

	ctx, cancel := s.storeContext()
	defer cancel()
	member, err := s.social.IsGroupMember(ctx, room, c.userID)
	if err != nil {
		return err
	}
	if !member {
		return errForbidden
	}
	if s.hub.Join(room, c.id) {
		c.logger.Debug("room_joined", zap.String("room", room))
	}
	return nil
}

func (s *Server) startCall(c *Client, e *StartCall) error {
	if err := asSelf(c, e.CallerID); err != nil {
		return err
	}
	s.calls.Start(e.CallerID, e.TargetUserID, c.id)
	return nil
}

func (s *Server) callAction(c *Client, name string, e *CallAction) error {
	if err := asSelf(c, e.UserID); err != nil {
		return err
	}
	switch name {
	case EventJoinCall:
		s.calls.Join(e.UserID, e.TargetUserID, c.id)
	case EventLeaveCall:
		s.calls.Leave(e.UserID, e.TargetUserID, c.id)
	case EventScreenshareStart:
		s.calls.SetScreenshare(e.UserID, e.TargetUserID, true)
	case EventScreenshareStop:
		s.calls.SetScreenshare(e.UserID, e.TargetUserID, false)
	}
	return nil
}

func (s *Server) chatMessage(c *Client, e *ChatEvent) error {
	if err := asSelf(c, e.SenderID); err != nil {
		return err
	}

	ctx, cancel := s.storeContext()
	defer cancel()
	if err := s.authorizeMessage(ctx, c.userID, e.ReceiverID, e.GroupID); err != nil {
		return err
	}
	_, _, err := s.chat.Send(ctx, e.Message)
	return err
}

// authorizeMessage allows direct messages between friends, to oneself, and
// group messages from participants.
func (s *Server) authorizeMessage(ctx context.Context, senderID, receiverID, groupID string) error {
	if s.social == nil {
		return nil
	}
	if groupID != "" {
		member, err := s.social.IsGroupMember(ctx, groupID, senderID)
		if err != nil {
			return err
		}
		if !member {
			return errForbidden
		}
		return nil
	}
	if receiverID == senderID {
		return nil
	}
	friends, err := s.social.AreFriends(ctx, senderID, receiverID)
	if err != nil {
		return err
	}
	if !friends {
		return errForbidden
	}
	return nil
}

func (s *Server) signal(c *Client, e *SignalEvent) error {
	if err := asSelf(c, e.SenderID); err != nil {
		return err
	}
	if e.RoomID != "" && !s.hub.InRoom(e.RoomID, c.id) {
		return errForbidden
	}
	s.relay.Relay(c.id, e.Signal)
	return nil
}
