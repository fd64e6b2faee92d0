package ws

import (
	"github.com/channelhub/internal/model"
)

// Клиент -> сервер.
const (
	EventJoin       = "join"
	EventLeave      = "leave"
	EventNewMessage = string(model.EventMessageCreated)
	EventTyping     = string(model.EventTyping)
)

// Сервер -> клиент (кроме событий канала из model.EventType).
const (
	EventJoined = "joined"
	EventLeft   = "left"
	EventAck    = "ack"
	EventError  = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	// MessageID — id сообщения, созданного через REST (для "new message").
	MessageID string `json:"message_id,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Seq задан только для событий канала и растёт в пределах канала.
type OutgoingMessage struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id,omitempty"`
	Seq       int64  `json:"seq,omitempty"`
	Payload   any    `json:"payload"`
}

func fromEvent(ev model.Event) OutgoingMessage {
	return OutgoingMessage{
		Type:      string(ev.Type),
		ChannelID: ev.ChannelID,
		Seq:       ev.Seq,
		Payload:   ev.Payload,
	}
}

// AckPayload подтверждает обработку запроса клиента.
type AckPayload struct {
	RequestID string `json:"request_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// ErrorPayload — ошибка обработки запроса клиента. Code — категория ошибки сервиса.
type ErrorPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// RoomPayload — подтверждение входа/выхода из комнаты.
type RoomPayload struct {
	RequestID string `json:"request_id,omitempty"`
	ChannelID string `json:"channel_id"`
}
