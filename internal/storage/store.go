package storage

import (
	"context"

	"github.com/channelhub/internal/model"
)

// EventRelay — шина событий каналов между инстансами API.
// Реализации: redis.Client (PUBLISH/SUBSCRIBE), memory.Client (один процесс, -dev без Redis).
// Порядок событий одного издателя сохраняется.
type EventRelay interface {
	Publish(ctx context.Context, ev model.Event) error
	// Subscribe регистрирует обработчик; доставка идёт до отмены ctx или Close.
	Subscribe(ctx context.Context, handler func(model.Event)) error
	Close() error
}
