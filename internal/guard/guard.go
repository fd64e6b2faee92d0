// Package guard решает, может ли пользователь читать канал, писать в него
// и изменять сообщение. Проверки вызываются перед любым обращением к хранилищу.
package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/repository"
)

var (
	// ErrNotMember — пользователь не участник канала (чтение приватного канала или запись).
	ErrNotMember = errors.New("not a channel member")
	// ErrForbidden — пользователь не автор изменяемого сообщения.
	ErrForbidden = errors.New("not the author")
)

type Guard struct {
	channels repository.ChannelStore
}

func New(channels repository.ChannelStore) *Guard {
	return &Guard{channels: channels}
}

// CanRead: канал публичный или пользователь в нём состоит.
func CanRead(userID string, ch *model.Channel) bool {
	return ch.Kind != model.ChannelPrivate || ch.HasMember(userID)
}

// CanWrite: пользователь участник канала (тип канала не важен).
func CanWrite(userID string, ch *model.Channel) bool {
	return ch.HasMember(userID)
}

// CanModify: пользователь автор сообщения или ответа.
func CanModify(userID, authorID string) bool {
	return userID != "" && userID == authorID
}

// RequireRead загружает канал и проверяет право чтения.
// Неизвестный канал — repository.ErrNotFound.
func (g *Guard) RequireRead(ctx context.Context, userID, channelID string) (*model.Channel, error) {
	ch, err := g.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !CanRead(userID, ch) {
		return nil, fmt.Errorf("read %s: %w", channelID, ErrNotMember)
	}
	return ch, nil
}

// RequireWrite загружает канал и проверяет членство.
func (g *Guard) RequireWrite(ctx context.Context, userID, channelID string) (*model.Channel, error) {
	ch, err := g.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !CanWrite(userID, ch) {
		return nil, fmt.Errorf("write %s: %w", channelID, ErrNotMember)
	}
	return ch, nil
}

func RequireModify(userID, authorID string) error {
	if !CanModify(userID, authorID) {
		return ErrForbidden
	}
	return nil
}
