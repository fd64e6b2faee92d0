package room

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelhub/internal/model"
)

type testSink struct {
	id, user string
}

func (s *testSink) ID() string            { return s.id }
func (s *testSink) UserID() string        { return s.user }
func (s *testSink) Send(model.Event) bool { return true }

func TestJoinLeave(t *testing.T) {
	r := NewRegistry()
	a := &testSink{id: "s1", user: "alice"}
	r.Register(a)

	assert.ErrorIs(t, r.Join("ghost", "c1"), ErrUnknownSession)

	require.NoError(t, r.Join("s1", "c1"))
	require.NoError(t, r.Join("s1", "c1"))
	require.NoError(t, r.Join("s1", "c2"))
	assert.Equal(t, []string{"s1"}, r.MembersOf("c1"))
	assert.ElementsMatch(t, []string{"c1", "c2"}, r.ChannelsOf("s1"))

	r.Leave("s1", "c1")
	r.Leave("s1", "c1")
	assert.Empty(t, r.MembersOf("c1"))
	assert.Equal(t, []string{"c2"}, r.ChannelsOf("s1"))
}

func TestLeaveAll(t *testing.T) {
	r := NewRegistry()
	r.Register(&testSink{id: "s1", user: "alice"})
	r.Register(&testSink{id: "s2", user: "bob"})
	require.NoError(t, r.Join("s1", "c1"))
	require.NoError(t, r.Join("s2", "c1"))
	require.NoError(t, r.Join("s1", "c2"))
	assert.Equal(t, 2, r.Sessions())

	r.LeaveAll("s1")
	assert.Equal(t, []string{"s2"}, r.MembersOf("c1"))
	assert.Empty(t, r.MembersOf("c2"))
	assert.Equal(t, 1, r.Sessions())
	assert.ErrorIs(t, r.Join("s1", "c3"), ErrUnknownSession)
}

func TestLeaveUserAndCloseRoom(t *testing.T) {
	r := NewRegistry()
	r.Register(&testSink{id: "phone", user: "alice"})
	r.Register(&testSink{id: "laptop", user: "alice"})
	r.Register(&testSink{id: "s3", user: "bob"})
	for _, id := range []string{"phone", "laptop", "s3"} {
		require.NoError(t, r.Join(id, "c1"))
	}
	users := r.UsersIn("c1")
	assert.Len(t, users, 2)

	r.LeaveUser("alice", "c1")
	assert.Equal(t, []string{"s3"}, r.MembersOf("c1"))
	assert.Empty(t, r.ChannelsOf("phone"))

	r.CloseRoom("c1")
	assert.Empty(t, r.MembersOf("c1"))
	require.NoError(t, r.Join("s3", "c1"), "a closed room can be joined again")
	assert.Equal(t, []string{"s3"}, r.MembersOf("c1"))
}

func TestRetainUsers(t *testing.T) {
	r := NewRegistry()
	r.Register(&testSink{id: "phone", user: "alice"})
	r.Register(&testSink{id: "laptop", user: "alice"})
	r.Register(&testSink{id: "s3", user: "bob"})
	for _, id := range []string{"phone", "laptop", "s3"} {
		require.NoError(t, r.Join(id, "c1"))
	}
	require.NoError(t, r.Join("s3", "c2"))

	r.RetainUsers("c1", []string{"alice"})
	assert.ElementsMatch(t, []string{"phone", "laptop"}, r.MembersOf("c1"))
	assert.Equal(t, []string{"c2"}, r.ChannelsOf("s3"), "other rooms are untouched")

	r.RetainUsers("c1", nil)
	assert.Empty(t, r.MembersOf("c1"))
}

func TestConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry()
	const n = 32
	for i := 0; i < n; i++ {
		r.Register(&testSink{id: fmt.Sprintf("s%d", i), user: "u"})
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.NoError(t, r.Join(id, "c1"))
				r.Leave(id, "c1")
			}
			assert.NoError(t, r.Join(id, "c1"))
		}(fmt.Sprintf("s%d", i))
	}
	wg.Wait()
	assert.Len(t, r.MembersOf("c1"), n)
}
