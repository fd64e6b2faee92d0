package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/room"
	"github.com/channelhub/internal/storage/memory"
)

type chanSink struct {
	id, user string
	out      chan model.Event
}

func newSink(id, user string, buf int) *chanSink {
	return &chanSink{id: id, user: user, out: make(chan model.Event, buf)}
}

func (s *chanSink) ID() string     { return s.id }
func (s *chanSink) UserID() string { return s.user }
func (s *chanSink) Send(ev model.Event) bool {
	select {
	case s.out <- ev:
		return true
	default:
		return false
	}
}

func (s *chanSink) next(t *testing.T) model.Event {
	t.Helper()
	select {
	case ev := <-s.out:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s: no event", s.id)
		return model.Event{}
	}
}

func (s *chanSink) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-s.out:
		t.Fatalf("session %s: unexpected event %s", s.id, ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func setup(t *testing.T) (*room.Registry, *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reg := room.NewRegistry()
	d := New(reg, memory.New())
	require.NoError(t, d.Start(ctx))
	return reg, d
}

func join(t *testing.T, reg *room.Registry, s room.Sink, channelID string) {
	t.Helper()
	reg.Register(s)
	require.NoError(t, reg.Join(s.ID(), channelID))
}

func TestPublishOrderPerChannel(t *testing.T) {
	reg, d := setup(t)
	a := newSink("s1", "alice", 256)
	join(t, reg, a, "c1")

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Publish(model.Event{Type: model.EventMessageCreated, ChannelID: "c1"})
		}()
	}
	wg.Wait()
	d.Wait()

	for i := int64(1); i <= n; i++ {
		assert.Equal(t, i, a.next(t).Seq)
	}
}

func TestSeqIsPerChannel(t *testing.T) {
	_, d := setup(t)
	assert.Equal(t, int64(1), d.Publish(model.Event{ChannelID: "c1"}).Seq)
	assert.Equal(t, int64(2), d.Publish(model.Event{ChannelID: "c1"}).Seq)
	assert.Equal(t, int64(1), d.Publish(model.Event{ChannelID: "c2"}).Seq)
	d.Wait()
}

func TestSlowSessionDoesNotBlockOthers(t *testing.T) {
	reg, d := setup(t)
	slow := newSink("slow", "bob", 1)
	fast := newSink("fast", "alice", 16)
	join(t, reg, slow, "c1")
	join(t, reg, fast, "c1")

	for i := 0; i < 5; i++ {
		d.Publish(model.Event{Type: model.EventMessageCreated, ChannelID: "c1"})
	}
	d.Wait()

	for i := int64(1); i <= 5; i++ {
		assert.Equal(t, i, fast.next(t).Seq)
	}
	assert.Equal(t, int64(1), slow.next(t).Seq)
	slow.none(t)
}

func TestExcludeSession(t *testing.T) {
	reg, d := setup(t)
	a := newSink("s1", "alice", 4)
	b := newSink("s2", "bob", 4)
	join(t, reg, a, "c1")
	join(t, reg, b, "c1")

	d.Publish(model.Event{Type: model.EventTyping, ChannelID: "c1", ExcludeSession: "s1"})
	d.Wait()
	assert.Equal(t, model.EventTyping, b.next(t).Type)
	a.none(t)
}

func TestEvictUserAfterDelivery(t *testing.T) {
	reg, d := setup(t)
	a := newSink("s1", "alice", 4)
	b := newSink("s2", "bob", 4)
	join(t, reg, a, "c1")
	join(t, reg, b, "c1")

	d.Publish(model.Event{Type: model.EventMemberLeft, ChannelID: "c1", EvictUser: "alice"})
	d.Wait()
	assert.Equal(t, model.EventMemberLeft, a.next(t).Type, "leaver still sees its own leave")
	assert.Equal(t, model.EventMemberLeft, b.next(t).Type)
	assert.Equal(t, []string{"s2"}, reg.MembersOf("c1"))
}

func TestRestrictBeforeDelivery(t *testing.T) {
	reg, d := setup(t)
	a := newSink("s1", "alice", 4)
	b := newSink("s2", "bob", 4)
	join(t, reg, a, "c1")
	join(t, reg, b, "c1")

	d.Publish(model.Event{Type: model.EventChannelUpdated, ChannelID: "c1", Restrict: true, RestrictTo: []string{"alice"}})
	d.Publish(model.Event{Type: model.EventMessageCreated, ChannelID: "c1"})
	d.Wait()
	assert.Equal(t, model.EventChannelUpdated, a.next(t).Type)
	assert.Equal(t, model.EventMessageCreated, a.next(t).Type)
	b.none(t)
	assert.Equal(t, []string{"s1"}, reg.MembersOf("c1"))
}

func TestCloseRoom(t *testing.T) {
	reg, d := setup(t)
	a := newSink("s1", "alice", 4)
	join(t, reg, a, "c1")

	d.Publish(model.Event{Type: model.EventChannelDeleted, ChannelID: "c1", CloseRoom: true})
	d.Wait()
	assert.Equal(t, model.EventChannelDeleted, a.next(t).Type)
	assert.Empty(t, reg.MembersOf("c1"))

	d.Publish(model.Event{ChannelID: "c1"})
	d.Wait()
	a.none(t)
}
