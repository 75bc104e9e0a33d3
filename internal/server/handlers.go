package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-social/internal/calls"
	"github.com/Tyrowin/nexus-social/internal/chat"
	"github.com/Tyrowin/nexus-social/internal/identity"
	"github.com/Tyrowin/nexus-social/internal/social"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Profile is the public view of a user.
type Profile struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilepicture,omitempty"`
}

func profileOf(u identity.User) Profile {
	return Profile{ID: u.ID, Username: u.Username, ProfilePicture: u.ProfilePicture}
}

type healthResponse struct {
	Status      string `json:"status"`
	Clients     int    `json:"clients"`
	ActiveCalls int    `json:"activeCalls"`
}

type directConversation struct {
	Status   string         `json:"status"`
	RoomID   string         `json:"roomId"`
	Peer     Profile        `json:"peer"`
	Messages []chat.Message `json:"messages"`
}

type groupConversation struct {
	Status   string             `json:"status"`
	Group    identity.GroupChat `json:"group"`
	Messages []chat.Message     `json:"messages"`
}

type sentResponse struct {
	Status    string       `json:"status"`
	Sent      chat.Message `json:"sent"`
	Delivered int          `json:"delivered"`
}

type inviteResponse struct {
	Status    string `json:"status"`
	Delivered bool   `json:"delivered"`
}

type friendResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Outcome string `json:"outcome,omitempty"`
}

type groupResponse struct {
	Status string             `json:"status"`
	Group  identity.GroupChat `json:"group"`
}

type sendRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type usernameRequest struct {
	Username string `json:"username"`
}

type groupRequest struct {
	Name       string   `json:"name"`
	MemberIDs  []string `json:"memberIds"`
	PictureURL string   `json:"pictureUrl"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, statusResponse{Status: statusError, Message: msg})
}

// fail maps a component error onto an HTTP status. Internal failures are
// logged and reported without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	msg := err.Error()
	switch {
	case errors.Is(err, errForbidden):
		status, msg = http.StatusForbidden, "not allowed"
	case errors.Is(err, social.ErrNotParticipant):
		status = http.StatusForbidden
	case social.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrInvalidMessage), errors.Is(err, errInvalidBody):
		status = http.StatusBadRequest
	case errors.Is(err, social.ErrUserNotFound):
		status, msg = http.StatusNotFound, "user not found"
	case errors.Is(err, social.ErrGroupNotFound):
		status, msg = http.StatusNotFound, "group not found"
	case errors.Is(err, social.ErrConflict):
		status = http.StatusConflict
	default:
		s.logger.Error("request_failed", zap.String("path", r.URL.Path), zap.Error(err))
		status, msg = http.StatusServiceUnavailable, "service unavailable, try again later"
	}
	writeError(w, status, msg)
}

var errInvalidBody = errors.New("invalid request body")

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxMessageSize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}

// HealthHandler reports liveness with the current connection and call counts.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: statusOK, Clients: s.hub.ClientCount()}
	if s.calls != nil {
		resp.ActiveCalls = s.calls.ActiveCalls()
	}
	writeJSON(w, http.StatusOK, resp)
}

// WebSocketHandler authenticates the request, upgrades it and registers the
// new channel with the hub.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Authenticate(r)
	if err != nil {
		s.logger.Info("upgrade_unauthenticated", zap.String("addr", r.RemoteAddr), zap.Error(err))
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade_failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, s.hub, userID, r.RemoteAddr, s.opts, s.dispatch)
	if !s.hub.Register(client) {
		_ = conn.Close()
	}
}

// DirectConversation returns the DM history between the actor and {id}.
func (s *Server) DirectConversation(w http.ResponseWriter, r *http.Request) {
	actor := Actor(r.Context())
	peerID := mux.Vars(r)["id"]

	peer, err := s.social.User(r.Context(), peerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorizeMessage(r.Context(), actor, peerID, ""); err != nil {
		s.fail(w, r, err)
		return
	}

	roomID := calls.RoomID(actor, peerID)
	msgs, err := s.chat.History(r.Context(), roomID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, directConversation{Status: statusOK, RoomID: roomID, Peer: profileOf(peer), Messages: msgs})
}

// GroupConversation returns the history of group {id} to a participant.
func (s *Server) GroupConversation(w http.ResponseWriter, r *http.Request) {
	actor := Actor(r.Context())
	g, err := s.social.Group(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !g.HasParticipant(actor) {
		s.fail(w, r, social.ErrNotParticipant)
		return
	}

	msgs, err := s.chat.History(r.Context(), g.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groupConversation{Status: statusOK, Group: g, Messages: msgs})
}

// SendDirect posts a message from the actor to user {id}.
func (s *Server) SendDirect(w http.ResponseWriter, r *http.Request) {
	s.send(w, r, chat.Message{ReceiverID: mux.Vars(r)["id"]})
}

// SendGroup posts a message from the actor to group {id}.
func (s *Server) SendGroup(w http.ResponseWriter, r *http.Request) {
	s.send(w, r, chat.Message{GroupID: mux.Vars(r)["id"]})
}

func (s *Server) send(w http.ResponseWriter, r *http.Request, msg chat.Message) {
	var req sendRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	msg.SenderID = Actor(r.Context())
	msg.Type = req.Type
	msg.Content = req.Content

	if err := s.authorizeMessage(r.Context(), msg.SenderID, msg.ReceiverID, msg.GroupID); err != nil {
		s.fail(w, r, err)
		return
	}
	sent, n, err := s.chat.Send(r.Context(), msg)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sentResponse{Status: statusOK, Sent: sent, Delivered: n})
}

// InviteToCall notifies {targetUserId} that the actor is calling.
func (s *Server) InviteToCall(w http.ResponseWriter, r *http.Request) {
	actor := Actor(r.Context())
	target := mux.Vars(r)["targetUserId"]
	if target == actor {
		writeError(w, http.StatusBadRequest, "you cannot call yourself")
		return
	}
	if err := s.authorizeMessage(r.Context(), actor, target, ""); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inviteResponse{Status: statusOK, Delivered: s.relay.Invite(actor, target)})
}

// FriendAction applies one of the friendship operations named by {action}
// to the user in the request body.
func (s *Server) FriendAction(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := r.Context()
	actor := Actor(ctx)

	resp := friendResponse{Status: statusOK}
	var err error
	switch mux.Vars(r)["action"] {
	case "request":
		var outcome social.Outcome
		outcome, err = s.social.SendFriendRequest(ctx, actor, req.Username)
		resp.Outcome = string(outcome)
		resp.Message = "friend request sent"
		if outcome == social.OutcomeInversePending {
			resp.Message = "they already sent you a request, accept it to become friends"
		}
	case "accept":
		err = s.social.AcceptFriendRequest(ctx, actor, req.Username)
		resp.Message = "friend request accepted"
	case "reject":
		err = s.social.RejectFriendRequest(ctx, actor, req.Username)
		resp.Message = "friend request rejected"
	case "cancel":
		err = s.social.CancelFriendRequest(ctx, actor, req.Username)
		resp.Message = "friend request cancelled"
	case "unfriend":
		err = s.social.Unfriend(ctx, actor, req.Username)
		resp.Message = "friend removed"
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateGroup creates a group chat owned by the actor.
func (s *Server) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	g, err := s.social.CreateGroup(r.Context(), Actor(r.Context()), req.Name, req.MemberIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, groupResponse{Status: statusOK, Group: g})
}

// AddGroupMembers adds the actor's friends to group {id}.
func (s *Server) AddGroupMembers(w http.ResponseWriter, r *http.Request) {
	s.updateGroup(w, r, func(req groupRequest) (identity.GroupChat, error) {
		return s.social.AddGroupMembers(r.Context(), Actor(r.Context()), mux.Vars(r)["id"], req.MemberIDs)
	})
}

// RenameGroup renames group {id}.
func (s *Server) RenameGroup(w http.ResponseWriter, r *http.Request) {
	s.updateGroup(w, r, func(req groupRequest) (identity.GroupChat, error) {
		return s.social.RenameGroup(r.Context(), Actor(r.Context()), mux.Vars(r)["id"], req.Name)
	})
}

// SetGroupPicture sets the picture URL of group {id}.
func (s *Server) SetGroupPicture(w http.ResponseWriter, r *http.Request) {
	s.updateGroup(w, r, func(req groupRequest) (identity.GroupChat, error) {
		return s.social.SetGroupPicture(r.Context(), Actor(r.Context()), mux.Vars(r)["id"], req.PictureURL)
	})
}

func (s *Server) updateGroup(w http.ResponseWriter, r *http.Request, fn func(groupRequest) (identity.GroupChat, error)) {
	var req groupRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	g, err := fn(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groupResponse{Status: statusOK, Group: g})
}

// LeaveGroup removes the actor from group {id}.
func (s *Server) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.social.LeaveGroup(r.Context(), Actor(r.Context()), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: statusOK, Message: "left group"})
}
