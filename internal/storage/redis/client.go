package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/model"
)

// DefaultTopic — канал Redis, через который инстансы обмениваются событиями.
const DefaultTopic = "channelhub:events"

type Client struct {
	cli   *redis.Client
	topic string
}

// wireEvent — model.Event с сырым payload: после приёма он пересылается клиентам как есть.
type wireEvent struct {
	Type           model.EventType `json:"type"`
	ChannelID      string          `json:"channel_id"`
	Seq            int64           `json:"seq"`
	Payload        json.RawMessage `json:"payload"`
	ExcludeSession string          `json:"exclude_session,omitempty"`
	EvictUser      string          `json:"evict_user,omitempty"`
	Restrict       bool            `json:"restrict,omitempty"`
	RestrictTo     []string        `json:"restrict_to,omitempty"`
	CloseRoom      bool            `json:"close_room,omitempty"`
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, topic: DefaultTopic}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Publish сериализует событие и публикует его в общий топик.
func (c *Client) Publish(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis publish marshal: %w", err)
	}
	if err := c.cli.Publish(ctx, c.topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe ждёт подтверждения подписки и читает топик в отдельной горутине.
// Обработчик вызывается последовательно, в порядке прихода сообщений.
func (c *Client) Subscribe(ctx context.Context, handler func(model.Event)) error {
	ps := c.cli.Subscribe(ctx, c.topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	go func() {
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := decodeEvent([]byte(msg.Payload))
				if err != nil {
					logger.Errorf("redis relay decode: %v", err)
					continue
				}
				handler(ev)
			}
		}
	}()
	return nil
}

func decodeEvent(data []byte) (model.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return model.Event{}, err
	}
	return model.Event{
		Type:           w.Type,
		ChannelID:      w.ChannelID,
		Seq:            w.Seq,
		Payload:        w.Payload,
		ExcludeSession: w.ExcludeSession,
		EvictUser:      w.EvictUser,
		Restrict:       w.Restrict,
		RestrictTo:     w.RestrictTo,
		CloseRoom:      w.CloseRoom,
	}, nil
}

// FlushDB очищает текущую БД Redis (для тестов).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
