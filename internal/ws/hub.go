package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/metrics"
	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/room"
	"github.com/channelhub/internal/service"
)

const handleTimeout = 5 * time.Second

// Messaging — операции ядра сообщений, доступные из живого соединения.
type Messaging interface {
	JoinRoom(ctx context.Context, userID, sessionID, channelID string) error
	LeaveRoom(sessionID, channelID string)
	ConfirmPosted(ctx context.Context, userID, channelID, messageID string) (*model.Message, error)
	Typing(ctx context.Context, userID, sessionID, channelID string) error
}

// Hub владеет жизненным циклом соединений: регистрирует их в реестре комнат
// при подключении и выводит из всех комнат при разрыве.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client // sessionID -> client
	maxConns   int
	cfg        ClientConfig
	registry   *room.Registry
	svc        Messaging
	register   chan *Client
	unregister chan *Client
	// stopping закрывается в начале shutdown: pumps не ждут занятый Run.
	stopping chan struct{}
	done     chan struct{}
}

func NewHub(registry *room.Registry, svc Messaging, maxConns int, cfg ClientConfig) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]*Client),
		maxConns:   maxConns,
		cfg:        cfg.withDefaults(),
		registry:   registry,
		svc:        svc,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		stopping:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			close(h.stopping)
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range all {
		h.registry.LeaveAll(c.id)
		metrics.SessionsActive.Dec()
	}
	// Close connections outside the lock (network I/O).
	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	select {
	case <-c.done:
		// соединение закрылось раньше, чем дошла регистрация
		h.registry.LeaveAll(c.id)
		return
	default:
	}
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		h.registry.LeaveAll(c.id)
		c.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	metrics.SessionsActive.Inc()
	logger.Debugf("ws session opened user=%s session=%s", c.userID, c.id)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; !ok || cur != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	h.mu.Unlock()

	h.registry.LeaveAll(c.id)
	metrics.SessionsActive.Dec()
	// Network I/O outside the lock.
	c.Close()
	logger.Debugf("ws session closed user=%s session=%s", c.userID, c.id)
}

// Count — число открытых соединений.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ChannelID == "" {
		h.replyError(c, msg, errors.New("channel_id required"), "validation")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	switch msg.Type {
	case EventJoin:
		if err := h.svc.JoinRoom(ctx, c.userID, c.id, msg.ChannelID); err != nil {
			h.replyError(c, msg, err, "")
			return
		}
		c.trySend(OutgoingMessage{Type: EventJoined, ChannelID: msg.ChannelID, Payload: RoomPayload{RequestID: msg.RequestID, ChannelID: msg.ChannelID}})
	case EventLeave:
		h.svc.LeaveRoom(c.id, msg.ChannelID)
		c.trySend(OutgoingMessage{Type: EventLeft, ChannelID: msg.ChannelID, Payload: RoomPayload{RequestID: msg.RequestID, ChannelID: msg.ChannelID}})
	case EventNewMessage:
		// Подсказка после REST-создания: сообщение уже сохранено и разослано, здесь только ack.
		if msg.MessageID == "" {
			h.replyError(c, msg, errors.New("message_id required: create messages via POST /api/messages"), "validation")
			return
		}
		m, err := h.svc.ConfirmPosted(ctx, c.userID, msg.ChannelID, msg.MessageID)
		if err != nil {
			h.replyError(c, msg, err, "")
			return
		}
		c.trySend(OutgoingMessage{Type: EventAck, ChannelID: msg.ChannelID, Payload: AckPayload{RequestID: msg.RequestID, MessageID: m.ID}})
	case EventTyping:
		if err := h.svc.Typing(ctx, c.userID, c.id, msg.ChannelID); err != nil {
			h.replyError(c, msg, err, "")
		}
	default:
		h.replyError(c, msg, errors.New("unknown event type"), "validation")
	}
}

// replyError отправляет ошибку только автору запроса. Внутренние детали наружу не уходят.
func (h *Hub) replyError(c *Client, msg IncomingMessage, err error, code string) {
	text := err.Error()
	if code == "" {
		kind := service.KindOf(err)
		code = kind.String()
		if kind == service.KindInternal {
			logger.Errorf("ws %s user=%s channel=%s: %v", msg.Type, c.userID, msg.ChannelID, err)
			text = "internal error"
		}
	}
	c.trySend(OutgoingMessage{
		Type:      EventError,
		ChannelID: msg.ChannelID,
		Payload:   ErrorPayload{RequestID: msg.RequestID, Code: code, Message: text},
	})
}

// Register сразу заводит сессию в реестре, чтобы первый join не обогнал регистрацию.
func (h *Hub) Register(c *Client) {
	h.registry.Register(c)
	select {
	case h.register <- c:
	case <-h.stopping:
		h.registry.LeaveAll(c.id)
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopping:
		h.registry.LeaveAll(c.id)
	}
}
