package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/repository"
)

func newChannel(t *testing.T, s *Store, id, name, owner string) *model.Channel {
	t.Helper()
	ch := &model.Channel{ID: id, Name: name, Kind: model.ChannelPublic, CreatedBy: owner}
	require.NoError(t, s.CreateChannel(context.Background(), ch))
	return ch
}

func newMessage(t *testing.T, s *Store, id, channelID, userID, content string) *model.Message {
	t.Helper()
	m := &model.Message{ID: id, ChannelID: channelID, UserID: userID, Content: content}
	require.NoError(t, s.CreateMessage(context.Background(), m))
	return m
}

func TestCreateChannelUniqueName(t *testing.T) {
	s := NewStore()
	ch := newChannel(t, s, "c1", "general", "alice")
	assert.Equal(t, []string{"alice"}, ch.Members)

	err := s.CreateChannel(context.Background(), &model.Channel{ID: "c2", Name: "general", CreatedBy: "bob"})
	assert.ErrorIs(t, err, repository.ErrConflict)

	_, err = s.GetChannel(context.Background(), "c2")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMembership(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	newChannel(t, s, "c1", "general", "alice")

	ch, err := s.AddMember(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, ch.Members)

	_, err = s.AddMember(ctx, "c1", "bob")
	assert.ErrorIs(t, err, repository.ErrAlreadyMember)

	ok, err := s.IsMember(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ch, err = s.RemoveMember(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ch.Members)

	_, err = s.RemoveMember(ctx, "c1", "bob")
	assert.ErrorIs(t, err, repository.ErrNotMember)

	_, err = s.AddMember(ctx, "nope", "bob")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	mine, err := s.ChannelsForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "c1", mine[0].ID)
}

func TestRenameFreesOldName(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	newChannel(t, s, "c1", "general", "alice")
	newChannel(t, s, "c2", "random", "alice")

	taken := "random"
	_, err := s.UpdateChannel(ctx, "c1", model.ChannelPatch{Name: &taken})
	assert.ErrorIs(t, err, repository.ErrConflict)

	renamed := "lobby"
	ch, err := s.UpdateChannel(ctx, "c1", model.ChannelPatch{Name: &renamed})
	require.NoError(t, err)
	assert.Equal(t, "lobby", ch.Name)

	newChannel(t, s, "c3", "general", "bob")
}

func TestCreateMessageAssignsSeq(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	newChannel(t, s, "c1", "general", "alice")

	m1 := newMessage(t, s, "m1", "c1", "alice", "one")
	m2 := newMessage(t, s, "m2", "c1", "alice", "two")
	assert.Equal(t, int64(1), m1.Seq)
	assert.Equal(t, int64(2), m2.Seq)
	assert.Equal(t, int64(1), m1.Version)

	err := s.CreateMessage(ctx, &model.Message{ID: "m3", ChannelID: "c1", UserID: "bob", Content: "x"})
	assert.ErrorIs(t, err, repository.ErrNotMember)

	err = s.CreateMessage(ctx, &model.Message{ID: "m4", ChannelID: "nope", UserID: "alice", Content: "x"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConcurrentPostsGetDistinctSeq(t *testing.T) {
	s := NewStore()
	newChannel(t, s, "c1", "general", "alice")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &model.Message{ID: fmt.Sprintf("m%d", i), ChannelID: "c1", UserID: "alice", Content: "x"}
			assert.NoError(t, s.CreateMessage(context.Background(), m))
		}(i)
	}
	wg.Wait()

	msgs, err := s.ListByChannel(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
	}
}

func TestEditVersionAndOwnership(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	newChannel(t, s, "c1", "general", "alice")
	newMessage(t, s, "m1", "c1", "alice", "hello")

	_, err := s.EditMessage(ctx, "m1", "bob", "hacked", 0)
	assert.ErrorIs(t, err, repository.ErrForbidden)

	m, err := s.EditMessage(ctx, "m1", "alice", "hello again", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.Version)
	assert.Equal(t, "hello again", m.Content)

	_, err = s.EditMessage(ctx, "m1", "alice", "stale", 1)
	assert.ErrorIs(t, err, repository.ErrStaleVersion)

	got, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello again", got.Content)
}

func TestRepliesAndReactions(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	newChannel(t, s, "c1", "general", "alice")
	newMessage(t, s, "m1", "c1", "alice", "root")

	require.NoError(t, s.AppendReply(ctx, &model.Reply{ID: "r1", MessageID: "m1", UserID: "alice", Content: "a"}))
	require.NoError(t, s.AppendReply(ctx, &model.Reply{ID: "r2", MessageID: "m1", ParentID: "r1", UserID: "alice", Content: "b"}))
	err := s.AppendReply(ctx, &model.Reply{ID: "r3", MessageID: "m1", ParentID: "ghost", UserID: "alice", Content: "c"})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, s.AppendReaction(ctx, &model.Reaction{ID: "x1", MessageID: "m1", UserID: "alice", Emoji: "👍"}))
	require.NoError(t, s.AppendReaction(ctx, &model.Reaction{ID: "x2", MessageID: "m1", UserID: "alice", Emoji: "👍"}))
	require.NoError(t, s.AppendReaction(ctx, &model.Reaction{ID: "x3", MessageID: "m1", ReplyID: "r2", UserID: "alice", Emoji: "🔥"}))

	m, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, m.Reactions, 2, "duplicate reactions are kept")
	require.Len(t, m.Replies, 1)
	require.Len(t, m.Replies[0].Replies, 1)
	assert.Equal(t, "r2", m.Replies[0].Replies[0].ID)
	assert.Len(t, m.Replies[0].Replies[0].Reactions, 1)
}

func TestArchivedChannelRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	newChannel(t, s, "c1", "general", "alice")
	newMessage(t, s, "m1", "c1", "alice", "root")

	archived := true
	_, err := s.UpdateChannel(ctx, "c1", model.ChannelPatch{Archived: &archived})
	require.NoError(t, err)

	err = s.CreateMessage(ctx, &model.Message{ID: "m2", ChannelID: "c1", UserID: "alice", Content: "x"})
	assert.ErrorIs(t, err, repository.ErrArchived)
	err = s.AppendReply(ctx, &model.Reply{ID: "r1", MessageID: "m1", UserID: "alice", Content: "x"})
	assert.ErrorIs(t, err, repository.ErrArchived)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	newChannel(t, s, "c1", "general", "alice")
	newMessage(t, s, "m1", "c1", "alice", "one")
	newMessage(t, s, "m2", "c1", "alice", "two")

	_, err := s.DeleteMessage(ctx, "m1", "bob")
	assert.ErrorIs(t, err, repository.ErrForbidden)
	snap, err := s.DeleteMessage(ctx, "m1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "c1", snap.ChannelID)

	msgs, err := s.ListByChannel(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)

	require.NoError(t, s.DeleteChannel(ctx, "c1"))
	_, err = s.GetMessage(ctx, "m2")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, s.DeleteChannel(ctx, "c1"), repository.ErrNotFound)

	newChannel(t, s, "c9", "general", "alice")
}

func TestFlagsAndSearch(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	newChannel(t, s, "c1", "general", "alice")
	newChannel(t, s, "c2", "random", "alice")
	newMessage(t, s, "m1", "c1", "alice", "Hello World")
	newMessage(t, s, "m2", "c2", "alice", "say HELLO")
	newMessage(t, s, "m3", "c2", "alice", "bye")

	m, err := s.SetPinned(ctx, "m1", true)
	require.NoError(t, err)
	assert.True(t, m.Pinned)
	m, err = s.SetUnread(ctx, "m1", true)
	require.NoError(t, err)
	assert.True(t, m.Unread)
	assert.True(t, m.Pinned)

	pinned, err := s.ListPinned(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, pinned, 1)

	found, err := s.Search(ctx, "hello")
	require.NoError(t, err)
	ids := []string{}
	for _, m := range found {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"m1", "m2"}, ids)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutUser(model.User{ID: "u1", Username: "alice"})
	require.NoError(t, s.EnsureUser(ctx, "u1", "other"))
	require.NoError(t, s.EnsureUser(ctx, "u2", ""))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	u, err = s.GetUser(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", u.Username)

	users, err := s.GetUsers(ctx, []string{"u1", "ghost", "u1", "u2"})
	require.NoError(t, err)
	assert.Len(t, users, 2)

	_, err = s.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
