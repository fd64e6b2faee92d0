package repository

import (
	"context"

	"github.com/channelhub/internal/model"
)

// ChannelStore — хранилище каналов и участников.
// Реализации: ChannelRepository (Postgres), memory.Store (для -memory и тестов).
type ChannelStore interface {
	// CreateChannel сохраняет канал; создатель становится первым участником. ErrConflict, если имя занято.
	CreateChannel(ctx context.Context, c *model.Channel) error
	GetChannel(ctx context.Context, id string) (*model.Channel, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
	UpdateChannel(ctx context.Context, id string, patch model.ChannelPatch) (*model.Channel, error)
	// DeleteChannel удаляет канал вместе со всеми его сообщениями.
	DeleteChannel(ctx context.Context, id string) error
	AddMember(ctx context.Context, channelID, userID string) (*model.Channel, error)
	RemoveMember(ctx context.Context, channelID, userID string) (*model.Channel, error)
	IsMember(ctx context.Context, channelID, userID string) (bool, error)
	ChannelsForUser(ctx context.Context, userID string) ([]model.Channel, error)
}

// MessageStore — хранилище сообщений с тредами и реакциями.
// Все записи атомарны в пределах одного сообщения (агрегата).
type MessageStore interface {
	// CreateMessage проверяет канал и членство автора, назначает Seq и Version.
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// AppendReply добавляет ответ; r.ParentID, если задан, должен указывать на ответ того же сообщения.
	AppendReply(ctx context.Context, r *model.Reply) error
	// AppendReaction добавляет реакцию на сообщение или (rc.ReplyID) на ответ. Повторы не схлопываются.
	AppendReaction(ctx context.Context, rc *model.Reaction) error
	// EditMessage меняет текст. expectedVersion > 0 включает проверку версии (ErrStaleVersion).
	EditMessage(ctx context.Context, id, userID, content string, expectedVersion int64) (*model.Message, error)
	DeleteMessage(ctx context.Context, id, userID string) (*model.Message, error)
	SetPinned(ctx context.Context, id string, pinned bool) (*model.Message, error)
	SetUnread(ctx context.Context, id string, unread bool) (*model.Message, error)
	// ListByChannel возвращает сообщения канала по возрастанию Seq.
	ListByChannel(ctx context.Context, channelID string) ([]model.Message, error)
	ListPinned(ctx context.Context, channelID string) ([]model.Message, error)
	// Search — регистронезависимый поиск подстроки по тексту сообщений всех каналов.
	Search(ctx context.Context, keyword string) ([]model.Message, error)
}

// UserDirectory — справочник пользователей (только чтение отображаемых полей).
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	// GetUsers возвращает найденных пользователей; неизвестные id пропускаются.
	GetUsers(ctx context.Context, ids []string) ([]model.User, error)
}

// Store объединяет все хранилища ядра сообщений.
type Store interface {
	ChannelStore
	MessageStore
	UserDirectory
}
