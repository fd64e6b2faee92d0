package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/channelhub/internal/model"
)

var errClosed = errors.New("memory relay closed")

type subscriber struct {
	id      uint64
	handler func(model.Event)
}

// Client — шина событий в памяти процесса. Publish вызывает обработчики синхронно,
// поэтому порядок доставки совпадает с порядком публикации.
type Client struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID uint64
	closed bool
}

func New() *Client {
	return &Client{}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.subs = nil
	return nil
}

func (c *Client) Publish(ctx context.Context, ev model.Event) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return errClosed
	}
	subs := c.subs
	c.mu.RUnlock()
	for _, s := range subs {
		s.handler(ev)
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, handler func(model.Event)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	c.nextID++
	id := c.nextID
	// copy-on-write: Publish обходит снимок среза вне блокировки
	subs := make([]subscriber, 0, len(c.subs)+1)
	subs = append(subs, c.subs...)
	c.subs = append(subs, subscriber{id: id, handler: handler})
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.unsubscribe(id)
	}()
	return nil
}

func (c *Client) unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := make([]subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	c.subs = kept
}
