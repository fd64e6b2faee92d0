// Package broadcast рассылает события канала всем сессиям его комнаты.
//
// У каждого канала своя очередь и не больше одного пишущего (drain-горутина),
// поэтому порядок событий канала совпадает с порядком Publish. Каналы друг друга не ждут.
// Доставка best-effort: отключившиеся сессии событие пропускают и перечитывают историю.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/metrics"
	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/room"
	"github.com/channelhub/internal/storage"
)

const relayPublishTimeout = 5 * time.Second

type Dispatcher struct {
	registry *room.Registry
	relay    storage.EventRelay
	queues   sync.Map // channelID -> *queue
	inflight sync.WaitGroup
}

type queue struct {
	mu      sync.Mutex
	seq     int64
	pending []model.Event
	running bool
}

// New создаёт диспетчер. События уходят в relay, а доставка сессиям идёт из подписки на relay
// (см. Start), так что при нескольких инстансах каждый доставляет события своим сессиям.
func New(registry *room.Registry, relay storage.EventRelay) *Dispatcher {
	return &Dispatcher{registry: registry, relay: relay}
}

// Start подписывает диспетчер на relay. Без Start события публикуются, но локально не доставляются.
func (d *Dispatcher) Start(ctx context.Context) error {
	return d.relay.Subscribe(ctx, d.deliver)
}

// Publish назначает событию следующий Seq канала и ставит его в очередь. Не блокирует на сети.
func (d *Dispatcher) Publish(ev model.Event) model.Event {
	q := d.queueFor(ev.ChannelID)
	q.mu.Lock()
	q.seq++
	ev.Seq = q.seq
	q.pending = append(q.pending, ev)
	start := !q.running
	if start {
		q.running = true
		d.inflight.Add(1)
	}
	q.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	if start {
		go d.drain(q)
	}
	return ev
}

func (d *Dispatcher) queueFor(channelID string) *queue {
	if v, ok := d.queues.Load(channelID); ok {
		return v.(*queue)
	}
	v, _ := d.queues.LoadOrStore(channelID, &queue{})
	return v.(*queue)
}

func (d *Dispatcher) drain(q *queue) {
	defer d.inflight.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		for _, ev := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
			if err := d.relay.Publish(ctx, ev); err != nil {
				metrics.RelayErrors.Inc()
				logger.Errorf("broadcast relay publish channel=%s type=%s: %v", ev.ChannelID, ev.Type, err)
			}
			cancel()
		}
	}
}

// deliver отдаёт событие каждой сессии комнаты. Отказ одной сессии не влияет на остальные.
func (d *Dispatcher) deliver(ev model.Event) {
	if ev.Restrict {
		d.registry.RetainUsers(ev.ChannelID, ev.RestrictTo)
	}
	for _, s := range d.registry.Sinks(ev.ChannelID) {
		if ev.ExcludeSession != "" && s.ID() == ev.ExcludeSession {
			continue
		}
		if s.Send(ev) {
			metrics.EventsDelivered.Inc()
			continue
		}
		metrics.EventsDropped.Inc()
		logger.Warnf("broadcast drop channel=%s type=%s session=%s", ev.ChannelID, ev.Type, s.ID())
	}
	if ev.EvictUser != "" {
		d.registry.LeaveUser(ev.EvictUser, ev.ChannelID)
	}
	if ev.CloseRoom {
		d.registry.CloseRoom(ev.ChannelID)
		d.queues.Delete(ev.ChannelID)
	}
}

// Wait ждёт, пока все поставленные в очередь события уйдут в relay.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
