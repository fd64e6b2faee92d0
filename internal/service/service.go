// Package service — ядро сообщений: каналы, участники, сообщения, треды и реакции.
//
// Каждая операция сначала проверяет права (guard), затем пишет в хранилище и
// публикует каноничный объект в комнату канала. Фиксация в хранилище и постановка
// события в очередь выполняются под блокировкой канала, поэтому порядок событий
// в комнате совпадает с порядком фиксации. Разные каналы друг друга не блокируют.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/channelhub/internal/broadcast"
	"github.com/channelhub/internal/guard"
	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/repository"
	"github.com/channelhub/internal/room"
)

const (
	maxChannelName = 80
	maxContent     = 4000
	maxEmoji       = 32
	pushPreview    = 100
	pushTimeout    = 10 * time.Second
	// pushParallel — сколько Notify выполняется одновременно на весь сервис.
	pushParallel = 16
)

// PushNotifier отправляет пуш-уведомления. Если nil — пуши не отправляются.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type Options struct {
	// ScopeSearch ограничивает поиск сообщений каналами, доступными пользователю на чтение.
	// По умолчанию поиск идёт по всем каналам.
	ScopeSearch bool
	Push        PushNotifier
}

type Service struct {
	channels    repository.ChannelStore
	messages    repository.MessageStore
	users       repository.UserDirectory
	guard       *guard.Guard
	registry    *room.Registry
	events      *broadcast.Dispatcher
	push        PushNotifier
	pushSlots   chan struct{}
	scopeSearch bool
	order       sync.Map // channelID -> *sync.Mutex
}

func New(store repository.Store, registry *room.Registry, events *broadcast.Dispatcher, opts Options) *Service {
	return &Service{
		channels:    store,
		messages:    store,
		users:       store,
		guard:       guard.New(store),
		registry:    registry,
		events:      events,
		push:        opts.Push,
		pushSlots:   make(chan struct{}, pushParallel),
		scopeSearch: opts.ScopeSearch,
	}
}

// lockChannel сериализует «запись + публикация» в пределах одного канала.
func (s *Service) lockChannel(channelID string) func() {
	v, ok := s.order.Load(channelID)
	if !ok {
		v, _ = s.order.LoadOrStore(channelID, &sync.Mutex{})
	}
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateChannelInput — параметры нового канала. Пустой Kind — публичный.
type CreateChannelInput struct {
	Name        string
	Description string
	Kind        model.ChannelKind
}

func (s *Service) CreateChannel(ctx context.Context, userID string, in CreateChannelInput) (*model.Channel, error) {
	name, err := channelName(in.Name)
	if err != nil {
		return nil, err
	}
	kind := in.Kind
	if kind == "" {
		kind = model.ChannelPublic
	}
	if !kind.Valid() {
		return nil, validation("unknown channel type %q", kind)
	}
	ch := &model.Channel{
		ID:            uuid.New().String(),
		Name:          name,
		Kind:          kind,
		Description:   strings.TrimSpace(in.Description),
		Notifications: model.DefaultNotifications(),
		CreatedBy:     userID,
	}
	if err := s.channels.CreateChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	logger.Infof("channel created id=%s name=%q by=%s", ch.ID, ch.Name, userID)
	return ch, nil
}

func channelName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", validation("name is required")
	}
	if utf8.RuneCountInString(name) > maxChannelName {
		return "", validation("name is longer than %d characters", maxChannelName)
	}
	return name, nil
}

func (s *Service) ListChannels(ctx context.Context) ([]model.Channel, error) {
	chs, err := s.channels.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return chs, nil
}

func (s *Service) GetChannel(ctx context.Context, userID, channelID string) (*model.Channel, error) {
	return s.guard.RequireRead(ctx, userID, channelID)
}

// ChannelsForUser — каналы, в которых состоит пользователь.
func (s *Service) ChannelsForUser(ctx context.Context, userID string) ([]model.Channel, error) {
	chs, err := s.channels.ChannelsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("channels for user: %w", err)
	}
	return chs, nil
}

// JoinChannel добавляет пользователя в участники. В приватный канал можно попасть только по приглашению.
func (s *Service) JoinChannel(ctx context.Context, userID, channelID string) (*model.Channel, error) {
	if _, err := s.guard.RequireRead(ctx, userID, channelID); err != nil {
		return nil, err
	}
	who, err := s.displayUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	unlock := s.lockChannel(channelID)
	defer unlock()
	// Повторная проверка под блокировкой: канал мог стать приватным.
	if _, err := s.guard.RequireRead(ctx, userID, channelID); err != nil {
		return nil, err
	}
	ch, err := s.channels.AddMember(ctx, channelID, userID)
	if err != nil {
		return nil, fmt.Errorf("join channel: %w", err)
	}
	s.events.Publish(model.Event{
		Type:      model.EventMemberJoined,
		ChannelID: channelID,
		Payload:   model.MemberEvent{ChannelID: channelID, User: who},
	})
	return ch, nil
}

// LeaveChannel убирает пользователя из участников. Для приватного канала его сессии
// покидают комнату после доставки события member.left.
func (s *Service) LeaveChannel(ctx context.Context, userID, channelID string) (*model.Channel, error) {
	who, err := s.displayUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	unlock := s.lockChannel(channelID)
	defer unlock()
	ch, err := s.channels.RemoveMember(ctx, channelID, userID)
	if err != nil {
		return nil, fmt.Errorf("leave channel: %w", err)
	}
	ev := model.Event{
		Type:      model.EventMemberLeft,
		ChannelID: channelID,
		Payload:   model.MemberEvent{ChannelID: channelID, User: who},
	}
	if ch.Kind == model.ChannelPrivate {
		ev.EvictUser = userID
	}
	s.events.Publish(ev)
	return ch, nil
}

// InviteToChannel — участник добавляет в канал другого пользователя.
func (s *Service) InviteToChannel(ctx context.Context, userID, channelID, inviteeID string) (*model.Channel, error) {
	if strings.TrimSpace(inviteeID) == "" {
		return nil, validation("user_id is required")
	}
	if _, err := s.guard.RequireWrite(ctx, userID, channelID); err != nil {
		return nil, err
	}
	invitee, err := s.users.GetUser(ctx, inviteeID)
	if err != nil {
		return nil, fmt.Errorf("invitee %s: %w", inviteeID, err)
	}
	unlock := s.lockChannel(channelID)
	defer unlock()
	ch, err := s.channels.AddMember(ctx, channelID, inviteeID)
	if err != nil {
		return nil, fmt.Errorf("invite: %w", err)
	}
	s.events.Publish(model.Event{
		Type:      model.EventMemberJoined,
		ChannelID: channelID,
		Payload:   model.MemberEvent{ChannelID: channelID, User: invitee.ToPublic(), ActorID: userID},
	})
	return ch, nil
}

// UpdateChannelInput — nil-поля не меняются.
type UpdateChannelInput struct {
	Name        *string
	Description *string
	Kind        *model.ChannelKind
}

func (s *Service) UpdateChannel(ctx context.Context, userID, channelID string, in UpdateChannelInput) (*model.Channel, error) {
	patch := model.ChannelPatch{Description: in.Description, Kind: in.Kind}
	if in.Name != nil {
		name, err := channelName(*in.Name)
		if err != nil {
			return nil, err
		}
		patch.Name = &name
	}
	if in.Kind != nil && !in.Kind.Valid() {
		return nil, validation("unknown channel type %q", *in.Kind)
	}
	return s.patchChannel(ctx, userID, channelID, patch)
}

// ArchiveChannel переводит канал в режим только для чтения.
func (s *Service) ArchiveChannel(ctx context.Context, userID, channelID string) (*model.Channel, error) {
	archived := true
	return s.patchChannel(ctx, userID, channelID, model.ChannelPatch{Archived: &archived})
}

func (s *Service) SetNotificationPreferences(ctx context.Context, userID, channelID string, prefs model.NotificationPreferences) (*model.Channel, error) {
	return s.patchChannel(ctx, userID, channelID, model.ChannelPatch{Notifications: &prefs})
}

func (s *Service) patchChannel(ctx context.Context, userID, channelID string, patch model.ChannelPatch) (*model.Channel, error) {
	current, err := s.guard.RequireWrite(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return current, nil
	}
	unlock := s.lockChannel(channelID)
	defer unlock()
	ch, err := s.channels.UpdateChannel(ctx, channelID, patch)
	if err != nil {
		return nil, fmt.Errorf("update channel: %w", err)
	}
	ev := model.Event{Type: model.EventChannelUpdated, ChannelID: channelID, Payload: *ch}
	if ch.Kind == model.ChannelPrivate {
		// Сессии не-участников, вошедшие в комнату, пока канал был публичным, её покидают.
		ev.Restrict = true
		ev.RestrictTo = append([]string(nil), ch.Members...)
	}
	s.events.Publish(ev)
	return ch, nil
}

// DeleteChannel удаляет канал вместе с сообщениями; комната закрывается после события channel.deleted.
func (s *Service) DeleteChannel(ctx context.Context, userID, channelID string) error {
	if _, err := s.guard.RequireWrite(ctx, userID, channelID); err != nil {
		return err
	}
	unlock := s.lockChannel(channelID)
	defer unlock()
	if err := s.channels.DeleteChannel(ctx, channelID); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	s.events.Publish(model.Event{
		Type:      model.EventChannelDeleted,
		ChannelID: channelID,
		Payload:   model.MessageRef{ChannelID: channelID},
		CloseRoom: true,
	})
	s.order.Delete(channelID)
	logger.Infof("channel deleted id=%s by=%s", channelID, userID)
	return nil
}

// ListMembers возвращает участников в порядке вступления. Пользователи,
// которых нет в справочнике, возвращаются только с id.
func (s *Service) ListMembers(ctx context.Context, userID, channelID string) ([]model.UserPublic, error) {
	ch, err := s.guard.RequireRead(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}
	return s.members(ctx, ch)
}

// SearchMembers — поиск участников по подстроке имени без учёта регистра. Только для участников канала.
func (s *Service) SearchMembers(ctx context.Context, userID, channelID, keyword string) ([]model.UserPublic, error) {
	ch, err := s.guard.RequireWrite(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}
	all, err := s.members(ctx, ch)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(keyword))
	if needle == "" {
		return all, nil
	}
	out := make([]model.UserPublic, 0, len(all))
	for _, u := range all {
		if strings.Contains(strings.ToLower(u.Username), needle) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Service) members(ctx context.Context, ch *model.Channel) ([]model.UserPublic, error) {
	users, err := s.users.GetUsers(ctx, ch.Members)
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", ch.ID, err)
	}
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	out := make([]model.UserPublic, 0, len(ch.Members))
	for _, id := range ch.Members {
		if u, ok := byID[id]; ok {
			out = append(out, u.ToPublic())
		} else {
			out = append(out, model.UserPublic{ID: id})
		}
	}
	return out, nil
}

// publicUser читает отображаемые поля пользователя; неизвестный пользователь — ErrNotFound.
func (s *Service) publicUser(ctx context.Context, userID string) (model.UserPublic, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return model.UserPublic{}, fmt.Errorf("user %s: %w", userID, err)
	}
	return u.ToPublic(), nil
}

// Profile — запись пользователя из справочника.
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", userID, err)
	}
	return u, nil
}

// displayUser как publicUser, но неизвестного пользователя возвращает только с id.
func (s *Service) displayUser(ctx context.Context, userID string) (model.UserPublic, error) {
	u, err := s.publicUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.UserPublic{ID: userID}, nil
	}
	return u, err
}

// --- Комнаты (живые сессии) ---

// JoinRoom подписывает сессию на события канала. Нужен доступ на чтение.
// Проверка и вход идут под блокировкой канала, чтобы не разминуться со сменой типа канала.
func (s *Service) JoinRoom(ctx context.Context, userID, sessionID, channelID string) error {
	if _, err := s.guard.RequireRead(ctx, userID, channelID); err != nil {
		return err
	}
	unlock := s.lockChannel(channelID)
	defer unlock()
	if _, err := s.guard.RequireRead(ctx, userID, channelID); err != nil {
		return err
	}
	return s.registry.Join(sessionID, channelID)
}

func (s *Service) LeaveRoom(sessionID, channelID string) {
	s.registry.Leave(sessionID, channelID)
}

// Typing рассылает подсказку «печатает» всем в комнате, кроме сессии-источника.
func (s *Service) Typing(ctx context.Context, userID, sessionID, channelID string) error {
	if _, err := s.guard.RequireWrite(ctx, userID, channelID); err != nil {
		return err
	}
	s.events.Publish(model.Event{
		Type:           model.EventTyping,
		ChannelID:      channelID,
		Payload:        model.TypingEvent{ChannelID: channelID, UserID: userID},
		ExcludeSession: sessionID,
	})
	return nil
}
