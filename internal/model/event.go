package model

type EventType string

const (
	EventMessageCreated EventType = "new message"
	EventMessageUpdated EventType = "message.updated"
	EventMessageDeleted EventType = "message.deleted"
	EventMessageReplied EventType = "message.replied"
	EventMessageReacted EventType = "message.reacted"
	EventMessagePinned  EventType = "message.pinned"
	EventMessageUnread  EventType = "message.unread"
	EventChannelUpdated EventType = "channel.updated"
	EventChannelDeleted EventType = "channel.deleted"
	EventMemberJoined   EventType = "member.joined"
	EventMemberLeft     EventType = "member.left"
	EventTyping         EventType = "typing"
)

// Event — событие канала для рассылки сессиям комнаты.
// Seq назначает диспетчер при публикации; внутри канала он строго возрастает.
//
// Служебные поля (ExcludeSession, EvictUser, Restrict, CloseRoom) управляют доставкой
// и клиенту не отправляются.
type Event struct {
	Type      EventType `json:"type"`
	ChannelID string    `json:"channel_id"`
	Seq       int64     `json:"seq"`
	Payload   any       `json:"payload"`

	// ExcludeSession — сессия-источник, которой событие не доставляется (typing).
	ExcludeSession string `json:"exclude_session,omitempty"`
	// EvictUser — после доставки убрать сессии пользователя из комнаты.
	EvictUser string `json:"evict_user,omitempty"`
	// Restrict — до доставки оставить в комнате только сессии пользователей из RestrictTo
	// (канал стал приватным). Пустой RestrictTo при Restrict очищает комнату.
	Restrict   bool     `json:"restrict,omitempty"`
	RestrictTo []string `json:"restrict_to,omitempty"`
	// CloseRoom — после доставки закрыть комнату целиком.
	CloseRoom bool `json:"close_room,omitempty"`
}

// MessageRef — полезная нагрузка удаления сообщения.
type MessageRef struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

type ReplyEvent struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	Reply     Reply  `json:"reply"`
}

type ReactionEvent struct {
	MessageID string   `json:"message_id"`
	ChannelID string   `json:"channel_id"`
	Reaction  Reaction `json:"reaction"`
}

type FlagEvent struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	Value     bool   `json:"value"`
	ActorID   string `json:"actor_id"`
}

type MemberEvent struct {
	ChannelID string     `json:"channel_id"`
	User      UserPublic `json:"user"`
	ActorID   string     `json:"actor_id,omitempty"`
}

type TypingEvent struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}
