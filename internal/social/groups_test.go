package social

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-social/internal/identity"
)

// friendsFixture makes u1 friends with u2 and u3.
func friendsFixture(t *testing.T, wrap func(identity.Store) identity.Store) *fixture {
	f := newFixture(t, wrap)
	f.befriend(t, "1", "2", "u2", "u1")
	f.befriend(t, "1", "3", "u3", "u1")
	return f
}

// assertSymmetric checks group membership is recorded on both sides.
func assertSymmetric(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	users, err := f.store.ReadUsers(ctx)
	require.NoError(t, err)
	groups, err := f.store.ReadGroups(ctx)
	require.NoError(t, err)

	for _, g := range groups.Items {
		for _, id := range g.Participants {
			i, ok := identity.FindUser(users.Items, id)
			require.True(t, ok)
			assert.True(t, users.Items[i].InGroup(g.ID), "user %s should list group %s", id, g.ID)
		}
	}
	for _, u := range users.Items {
		for _, gid := range u.GroupChats {
			i, ok := identity.FindGroup(groups.Items, gid)
			require.True(t, ok, "user %s lists missing group %s", u.ID, gid)
			assert.True(t, groups.Items[i].HasParticipant(u.ID))
		}
	}
}

func TestCreateGroup(t *testing.T) {
	f := friendsFixture(t, nil)

	g, err := f.svc.CreateGroup(context.Background(), "1", " Team ", []string{"2", "3", "2", "1"})
	require.NoError(t, err)
	assert.Equal(t, "G1", g.ID)
	assert.Equal(t, "Team", g.Name)
	assert.Equal(t, "1", g.CreatorID)
	assert.Equal(t, []string{"1", "2", "3"}, g.Participants)
	assertSymmetric(t, f)

	n := f.notifier.last(t)
	assert.Equal(t, EventNewGroupChat, n.event)
	assert.Equal(t, []string{"2", "3"}, n.rooms)
}

func TestCreateGroupGuards(t *testing.T) {
	f := friendsFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateGroup(ctx, "1", "  ", []string{"2"})
	assert.ErrorIs(t, err, ErrEmptyGroupName)

	_, err = f.svc.CreateGroup(ctx, "1", "solo", []string{"1"})
	assert.ErrorIs(t, err, ErrNoMembers)

	_, err = f.svc.CreateGroup(ctx, "1", "strangers", []string{"2", "4"})
	assert.ErrorIs(t, err, ErrNotFriendOfActor)

	_, err = f.svc.CreateGroup(ctx, "1", "ghosts", []string{"99"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	groups, err := f.store.ReadGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups.Items)
}

func TestCreateGroupRetryAfterPartialCommit(t *testing.T) {
	var flaky *flakyStore
	f := friendsFixture(t, func(s identity.Store) identity.Store {
		flaky = &flakyStore{Store: s}
		return flaky
	})
	flaky.userConflicts.Store(1)

	g, err := f.svc.CreateGroup(context.Background(), "1", "Team", []string{"2"})
	require.NoError(t, err)

	groups, err := f.store.ReadGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups.Items, 1, "the retry must not create a second group")
	assert.Equal(t, g.ID, groups.Items[0].ID)
	assertSymmetric(t, f)
}

func TestAddGroupMembers(t *testing.T) {
	f := friendsFixture(t, nil)
	ctx := context.Background()
	g, err := f.svc.CreateGroup(ctx, "1", "Team", []string{"2"})
	require.NoError(t, err)

	g, err = f.svc.AddGroupMembers(ctx, "1", g.ID, []string{"3", "2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, g.Participants)
	assertSymmetric(t, f)

	events := f.notifier.events()
	assert.Equal(t, []string{EventNewGroupChat, EventGroupMembersAdded, EventNewGroupChat}, events[len(events)-3:])

	_, err = f.svc.AddGroupMembers(ctx, "1", g.ID, []string{"3"})
	assert.ErrorIs(t, err, ErrNoNewMembers)

	_, err = f.svc.AddGroupMembers(ctx, "1", g.ID, []string{"4"})
	assert.ErrorIs(t, err, ErrNotFriendOfActor)

	_, err = f.svc.AddGroupMembers(ctx, "4", g.ID, []string{"2"})
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.svc.AddGroupMembers(ctx, "1", "missing", []string{"2"})
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestLeaveGroup(t *testing.T) {
	f := friendsFixture(t, nil)
	ctx := context.Background()
	g, err := f.svc.CreateGroup(ctx, "1", "Team", []string{"2", "3"})
	require.NoError(t, err)

	require.NoError(t, f.svc.LeaveGroup(ctx, "2", g.ID))
	assertSymmetric(t, f)

	got, err := f.svc.Group(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, got.Participants)
	assert.Contains(t, f.notifier.left, g.ID+"/2")

	n := f.notifier.last(t)
	assert.Equal(t, EventGroupMemberLeft, n.event)
	assert.Equal(t, []string{g.ID, "1", "3"}, n.rooms)

	assert.ErrorIs(t, f.svc.LeaveGroup(ctx, "2", g.ID), ErrNotParticipant)

	require.NoError(t, f.svc.LeaveGroup(ctx, "1", g.ID))
	require.NoError(t, f.svc.LeaveGroup(ctx, "3", g.ID))
	_, err = f.svc.Group(ctx, g.ID)
	assert.ErrorIs(t, err, ErrGroupNotFound, "the last leaver deletes the group")
	assertSymmetric(t, f)

	assert.ErrorIs(t, f.svc.LeaveGroup(ctx, "3", g.ID), ErrGroupNotFound)
}

func TestRenameAndPicture(t *testing.T) {
	f := friendsFixture(t, nil)
	ctx := context.Background()
	g, err := f.svc.CreateGroup(ctx, "1", "Team", []string{"2"})
	require.NoError(t, err)

	got, err := f.svc.RenameGroup(ctx, "2", g.ID, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	n := f.notifier.last(t)
	assert.Equal(t, EventGroupRenamed, n.event)
	assert.Equal(t, GroupRenamedNotice{GroupID: g.ID, Name: "Renamed"}, n.payload)

	_, err = f.svc.RenameGroup(ctx, "2", g.ID, "")
	assert.ErrorIs(t, err, ErrEmptyGroupName)
	_, err = f.svc.RenameGroup(ctx, "3", g.ID, "Nope")
	assert.ErrorIs(t, err, ErrNotParticipant)

	got, err = f.svc.SetGroupPicture(ctx, "1", g.ID, "https://cdn.example.com/g.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/g.png", got.Picture)
	assert.Equal(t, EventGroupPictureUpdated, f.notifier.last(t).event)

	_, err = f.svc.SetGroupPicture(ctx, "1", g.ID, "javascript:alert(1)")
	assert.ErrorIs(t, err, ErrInvalidPicture)
}

func TestGroupReadHelpers(t *testing.T) {
	f := friendsFixture(t, nil)
	ctx := context.Background()
	g, err := f.svc.CreateGroup(ctx, "1", "Team", []string{"2"})
	require.NoError(t, err)

	ok, err := f.svc.IsGroupMember(ctx, g.ID, "2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.IsGroupMember(ctx, g.ID, "3")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.IsGroupMember(ctx, "missing", "1")
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := f.svc.GroupParticipants(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
}
