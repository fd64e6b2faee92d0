// Package room хранит, какие живые сессии сейчас находятся в комнате какого канала.
// Состояние только в памяти: после рестарта реестр пуст и клиенты заново входят в комнаты.
package room

import (
	"errors"
	"sync"

	"github.com/channelhub/internal/model"
)

var ErrUnknownSession = errors.New("unknown session")

// Sink — получатель событий одной сессии (WebSocket-клиент).
// Send не блокирует: false означает, что событие не принято (буфер полон или сессия закрыта).
type Sink interface {
	ID() string
	UserID() string
	Send(ev model.Event) bool
}

// Registry индексирует сессии по id, не по пользователю: у одного пользователя может быть несколько устройств.
// Блокировки: своя у каждой сессии и у каждой комнаты; порядок захвата сессия -> комната.
type Registry struct {
	sessions sync.Map // sessionID -> *session
	rooms    sync.Map // channelID -> *room
}

type session struct {
	mu       sync.Mutex
	sink     Sink
	channels map[string]struct{}
	closed   bool
}

type room struct {
	mu      sync.RWMutex
	members map[string]Sink
	// dead — комната удалена из реестра; Join должен создать новую.
	dead bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register добавляет сессию без комнат. Повторная регистрация того же id ничего не меняет.
func (r *Registry) Register(s Sink) {
	r.sessions.LoadOrStore(s.ID(), &session{sink: s, channels: make(map[string]struct{})})
}

// Join добавляет сессию в комнату канала; идемпотентно.
func (r *Registry) Join(sessionID, channelID string) error {
	v, ok := r.sessions.Load(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	s := v.(*session)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrUnknownSession
	}
	if _, in := s.channels[channelID]; in {
		return nil
	}
	for {
		rm := r.roomFor(channelID)
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}
		rm.members[sessionID] = s.sink
		rm.mu.Unlock()
		break
	}
	s.channels[channelID] = struct{}{}
	return nil
}

func (r *Registry) roomFor(channelID string) *room {
	if v, ok := r.rooms.Load(channelID); ok {
		return v.(*room)
	}
	v, _ := r.rooms.LoadOrStore(channelID, &room{members: make(map[string]Sink)})
	return v.(*room)
}

// Leave убирает сессию из комнаты; идемпотентно.
func (r *Registry) Leave(sessionID, channelID string) {
	v, ok := r.sessions.Load(sessionID)
	if !ok {
		return
	}
	s := v.(*session)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, in := s.channels[channelID]; !in {
		return
	}
	delete(s.channels, channelID)
	r.removeFromRoom(sessionID, channelID)
}

// removeFromRoom вызывается под блокировкой сессии.
func (r *Registry) removeFromRoom(sessionID, channelID string) {
	v, ok := r.rooms.Load(channelID)
	if !ok {
		return
	}
	rm := v.(*room)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.members, sessionID)
	if len(rm.members) == 0 && !rm.dead {
		rm.dead = true
		r.rooms.CompareAndDelete(channelID, rm)
	}
}

// LeaveAll убирает сессию из всех комнат и забывает её. Вызывается при разрыве соединения.
func (r *Registry) LeaveAll(sessionID string) {
	v, ok := r.sessions.LoadAndDelete(sessionID)
	if !ok {
		return
	}
	s := v.(*session)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for channelID := range s.channels {
		r.removeFromRoom(sessionID, channelID)
	}
	s.channels = nil
}

// MembersOf возвращает id сессий в комнате канала.
func (r *Registry) MembersOf(channelID string) []string {
	v, ok := r.rooms.Load(channelID)
	if !ok {
		return nil
	}
	rm := v.(*room)
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	ids := make([]string, 0, len(rm.members))
	for id := range rm.members {
		ids = append(ids, id)
	}
	return ids
}

// Sinks возвращает получателей комнаты; отправка идёт уже вне блокировки.
func (r *Registry) Sinks(channelID string) []Sink {
	v, ok := r.rooms.Load(channelID)
	if !ok {
		return nil
	}
	rm := v.(*room)
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]Sink, 0, len(rm.members))
	for _, s := range rm.members {
		out = append(out, s)
	}
	return out
}

// UsersIn возвращает пользователей, у которых есть хотя бы одна сессия в комнате.
func (r *Registry) UsersIn(channelID string) map[string]struct{} {
	sinks := r.Sinks(channelID)
	users := make(map[string]struct{}, len(sinks))
	for _, s := range sinks {
		users[s.UserID()] = struct{}{}
	}
	return users
}

// ChannelsOf возвращает комнаты, в которых находится сессия.
func (r *Registry) ChannelsOf(sessionID string) []string {
	v, ok := r.sessions.Load(sessionID)
	if !ok {
		return nil
	}
	s := v.(*session)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// LeaveUser убирает из комнаты все сессии пользователя (вышел из приватного канала).
func (r *Registry) LeaveUser(userID, channelID string) {
	for _, s := range r.Sinks(channelID) {
		if s.UserID() == userID {
			r.Leave(s.ID(), channelID)
		}
	}
}

// RetainUsers оставляет в комнате только сессии перечисленных пользователей (канал стал приватным).
func (r *Registry) RetainUsers(channelID string, userIDs []string) {
	keep := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		keep[id] = struct{}{}
	}
	for _, s := range r.Sinks(channelID) {
		if _, ok := keep[s.UserID()]; !ok {
			r.Leave(s.ID(), channelID)
		}
	}
}

// CloseRoom убирает из комнаты все сессии (канал удалён).
func (r *Registry) CloseRoom(channelID string) {
	for _, s := range r.Sinks(channelID) {
		r.Leave(s.ID(), channelID)
	}
}

// Sessions — число зарегистрированных сессий.
func (r *Registry) Sessions() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
