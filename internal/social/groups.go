package social

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-social/internal/identity"
)

// groupState is one consistent view of both collections.
type groupState struct {
	users  identity.Snapshot[identity.User]
	groups identity.Snapshot[identity.GroupChat]

	usersDirty  bool
	groupsDirty bool
}

func (s *Service) readGroupState(ctx context.Context) (*groupState, error) {
	groups, err := s.readGroups(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.readUsers(ctx)
	if err != nil {
		return nil, err
	}
	return &groupState{users: users, groups: groups}, nil
}

// commit writes the groups document before the users document. A retry after
// a partial commit sees the group side already applied and repairs the users.
func (s *Service) commit(ctx context.Context, st *groupState) error {
	if st.groupsDirty {
		if err := s.store.WriteGroups(ctx, st.groups.Revision, st.groups.Items); err != nil {
			return err
		}
	}
	if st.usersDirty {
		if err := s.store.WriteUsers(ctx, st.users.Revision, st.users.Items); err != nil {
			return err
		}
	}
	return nil
}

// joinGroup records userID in the group on both sides.
func (st *groupState) joinGroup(g int, userID string) {
	group := &st.groups.Items[g]
	if !group.HasParticipant(userID) {
		group.Participants = append(group.Participants, userID)
		st.groupsDirty = true
	}
	if u, ok := identity.FindUser(st.users.Items, userID); ok && !st.users.Items[u].InGroup(group.ID) {
		st.users.Items[u].GroupChats = append(st.users.Items[u].GroupChats, group.ID)
		st.usersDirty = true
	}
}

// friendsOf resolves ids to users and checks each is a friend of the actor.
func friendsOf(users []identity.User, actor identity.User, ids []string) error {
	for _, id := range ids {
		i, ok := identity.FindUser(users, id)
		if !ok {
			return ErrUserNotFound
		}
		if !actor.HasFriend(users[i].Username) {
			return ErrNotFriendOfActor
		}
	}
	return nil
}

func dedupe(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == exclude || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// CreateGroup creates a group owned by actorID with the given friends as members.
func (s *Service) CreateGroup(ctx context.Context, actorID, name string, memberIDs []string) (identity.GroupChat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return identity.GroupChat{}, ErrEmptyGroupName
	}
	members := dedupe(memberIDs, actorID)
	if len(members) == 0 {
		return identity.GroupChat{}, ErrNoMembers
	}

	// fixed across attempts so a retry never creates a second group
	id := s.newID()
	createdAt := s.now().UTC()

	var created identity.GroupChat
	err := s.mutate(ctx, "create_group", func() error {
		st, err := s.readGroupState(ctx)
		if err != nil {
			return err
		}
		a, ok := identity.FindUser(st.users.Items, actorID)
		if !ok {
			return ErrUserNotFound
		}

		g, exists := identity.FindGroup(st.groups.Items, id)
		if !exists {
			if err := friendsOf(st.users.Items, st.users.Items[a], members); err != nil {
				return err
			}
			st.groups.Items = append(st.groups.Items, identity.GroupChat{
				ID:           id,
				Name:         name,
				Participants: []string{},
				CreatorID:    actorID,
				CreatedAt:    createdAt,
			})
			g = len(st.groups.Items) - 1
			st.groupsDirty = true
		}
		st.joinGroup(g, actorID)
		for _, m := range members {
			st.joinGroup(g, m)
		}
		if err := s.commit(ctx, st); err != nil {
			return err
		}
		created = st.groups.Items[g].Clone()
		return nil
	})
	if err != nil {
		return identity.GroupChat{}, err
	}

	s.logger.Info("group_created", zap.String("group", created.ID), zap.String("creator", actorID), zap.Int("members", len(created.Participants)))
	s.notify(others(created.Participants, actorID), EventNewGroupChat, GroupNotice{Group: created})
	return created, nil
}

// AddGroupMembers adds friends of actorID to a group actorID belongs to.
func (s *Service) AddGroupMembers(ctx context.Context, actorID, groupID string, memberIDs []string) (identity.GroupChat, error) {
	requested := dedupe(memberIDs, actorID)
	if len(requested) == 0 {
		return identity.GroupChat{}, ErrNoMembers
	}

	var (
		group  identity.GroupChat
		before []string
		added  []string
	)
	err := s.mutate(ctx, "add_group_members", func() error {
		st, err := s.readGroupState(ctx)
		if err != nil {
			return err
		}
		g, ok := identity.FindGroup(st.groups.Items, groupID)
		if !ok {
			return ErrGroupNotFound
		}
		if !st.groups.Items[g].HasParticipant(actorID) {
			return ErrNotParticipant
		}
		a, ok := identity.FindUser(st.users.Items, actorID)
		if !ok {
			return ErrUserNotFound
		}

		// a member is pending until both sides record the membership
		var pending []string
		for _, id := range requested {
			u, ok := identity.FindUser(st.users.Items, id)
			if !st.groups.Items[g].HasParticipant(id) || (ok && !st.users.Items[u].InGroup(groupID)) {
				pending = append(pending, id)
			}
		}
		if len(pending) == 0 {
			return ErrNoNewMembers
		}
		if err := friendsOf(st.users.Items, st.users.Items[a], pending); err != nil {
			return err
		}

		if before == nil {
			before = slices.DeleteFunc(slices.Clone(st.groups.Items[g].Participants), func(id string) bool {
				return slices.Contains(pending, id)
			})
		}
		for _, id := range pending {
			st.joinGroup(g, id)
		}
		if err := s.commit(ctx, st); err != nil {
			return err
		}
		group, added = st.groups.Items[g].Clone(), pending
		return nil
	})
	if err != nil {
		return identity.GroupChat{}, err
	}

	s.logger.Info("group_members_added", zap.String("group", groupID), zap.Strings("members", added))
	s.notify(append([]string{groupID}, others(before, actorID)...), EventGroupMembersAdded,
		MembersAddedNotice{GroupID: groupID, MemberIDs: added, AddedBy: actorID})
	s.notify(added, EventNewGroupChat, GroupNotice{Group: group})
	return group, nil
}

// LeaveGroup removes actorID from a group. The group is deleted when its
// last participant leaves.
func (s *Service) LeaveGroup(ctx context.Context, actorID, groupID string) error {
	var (
		remaining []string
		deleted   bool
	)
	err := s.mutate(ctx, "leave_group", func() error {
		st, err := s.readGroupState(ctx)
		if err != nil {
			return err
		}
		a, ok := identity.FindUser(st.users.Items, actorID)
		if !ok {
			return ErrUserNotFound
		}
		g, found := identity.FindGroup(st.groups.Items, groupID)
		inGroup := found && st.groups.Items[g].HasParticipant(actorID)
		listed := st.users.Items[a].InGroup(groupID)
		switch {
		case !found && !listed:
			return ErrGroupNotFound
		case !inGroup && !listed:
			return ErrNotParticipant
		}

		remaining, deleted = nil, !found
		if found {
			group := &st.groups.Items[g]
			group.Participants = slices.DeleteFunc(group.Participants, func(id string) bool { return id == actorID })
			remaining = slices.Clone(group.Participants)
			if len(group.Participants) == 0 {
				st.groups.Items = slices.Delete(st.groups.Items, g, g+1)
				deleted = true
			}
			st.groupsDirty = true
		}
		if listed {
			st.users.Items[a].GroupChats = slices.DeleteFunc(st.users.Items[a].GroupChats, func(id string) bool { return id == groupID })
			st.usersDirty = true
		}
		return s.commit(ctx, st)
	})
	if err != nil {
		return err
	}

	s.unsubscribe(groupID, actorID)
	if deleted {
		s.logger.Info("group_deleted", zap.String("group", groupID))
		return nil
	}
	s.notify(append([]string{groupID}, remaining...), EventGroupMemberLeft, MemberLeftNotice{GroupID: groupID, UserID: actorID})
	return nil
}

// RenameGroup changes the group's display name.
func (s *Service) RenameGroup(ctx context.Context, actorID, groupID, name string) (identity.GroupChat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return identity.GroupChat{}, ErrEmptyGroupName
	}
	group, err := s.updateGroup(ctx, "rename_group", actorID, groupID, func(g *identity.GroupChat) {
		g.Name = name
	})
	if err != nil {
		return group, err
	}
	s.notify(append([]string{groupID}, others(group.Participants, actorID)...), EventGroupRenamed,
		GroupRenamedNotice{GroupID: groupID, Name: name})
	return group, nil
}

// SetGroupPicture stores the URL of an already uploaded picture on the group.
func (s *Service) SetGroupPicture(ctx context.Context, actorID, groupID, pictureURL string) (identity.GroupChat, error) {
	pictureURL = strings.TrimSpace(pictureURL)
	u, err := url.Parse(pictureURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return identity.GroupChat{}, ErrInvalidPicture
	}
	group, err := s.updateGroup(ctx, "set_group_picture", actorID, groupID, func(g *identity.GroupChat) {
		g.Picture = pictureURL
	})
	if err != nil {
		return group, err
	}
	s.notify(append([]string{groupID}, others(group.Participants, actorID)...), EventGroupPictureUpdated,
		GroupPictureNotice{GroupID: groupID, Picture: pictureURL})
	return group, nil
}

// updateGroup applies fn to a group actorID belongs to. Only the groups
// document is written.
func (s *Service) updateGroup(ctx context.Context, op, actorID, groupID string, fn func(*identity.GroupChat)) (identity.GroupChat, error) {
	var out identity.GroupChat
	err := s.mutate(ctx, op, func() error {
		snap, err := s.readGroups(ctx)
		if err != nil {
			return err
		}
		g, ok := identity.FindGroup(snap.Items, groupID)
		if !ok {
			return ErrGroupNotFound
		}
		if !snap.Items[g].HasParticipant(actorID) {
			return ErrNotParticipant
		}
		fn(&snap.Items[g])
		if err := s.store.WriteGroups(ctx, snap.Revision, snap.Items); err != nil {
			return err
		}
		out = snap.Items[g].Clone()
		return nil
	})
	return out, err
}

func others(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
