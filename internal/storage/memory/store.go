package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/repository"
)

// Store — хранилище каналов, сообщений и пользователей в памяти процесса.
// Каждый канал и каждое сообщение защищены собственной блокировкой; общей блокировки нет.
// Порядок захвата: сообщение -> канал (никогда наоборот).
type Store struct {
	channels sync.Map // id -> *channelAgg
	names    sync.Map // name -> channel id
	messages sync.Map // id -> *messageAgg
	users    sync.Map // id -> model.User
}

type channelAgg struct {
	mu      sync.RWMutex
	ch      model.Channel
	members map[string]struct{}
	msgIDs  []string
	lastSeq int64
	deleted bool
}

type messageAgg struct {
	mu        sync.RWMutex
	msg       model.Message
	replies   []model.Reply
	reactions []model.Reaction
	deleted   bool
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{}
}

func now() time.Time { return time.Now().UTC() }

// PutUser добавляет или заменяет пользователя в справочнике.
func (s *Store) PutUser(u model.User) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now()
	}
	s.users.Store(u.ID, u)
}

// EnsureUser заводит пользователя, если его ещё нет. Существующая запись не меняется.
func (s *Store) EnsureUser(ctx context.Context, id, username string) error {
	if username == "" {
		username = id
	}
	s.users.LoadOrStore(id, model.User{ID: id, Username: username, CreatedAt: now()})
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	v, ok := s.users.Load(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	u := v.(model.User)
	return &u, nil
}

func (s *Store) GetUsers(ctx context.Context, ids []string) ([]model.User, error) {
	out := make([]model.User, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if v, ok := s.users.Load(id); ok {
			out = append(out, v.(model.User))
		}
	}
	return out, nil
}

// --- Channels ---

func (s *Store) channel(id string) (*channelAgg, error) {
	v, ok := s.channels.Load(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return v.(*channelAgg), nil
}

func (a *channelAgg) snapshot() *model.Channel {
	c := a.ch
	c.Members = append(make([]string, 0, len(a.ch.Members)), a.ch.Members...)
	return &c
}

func (s *Store) CreateChannel(ctx context.Context, c *model.Channel) error {
	if _, taken := s.names.LoadOrStore(c.Name, c.ID); taken {
		return fmt.Errorf("memory.CreateChannel %q: %w", c.Name, repository.ErrConflict)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	c.UpdatedAt = c.CreatedAt
	c.Members = []string{c.CreatedBy}
	agg := &channelAgg{
		ch:      *c,
		members: map[string]struct{}{c.CreatedBy: {}},
	}
	agg.ch.Members = []string{c.CreatedBy}
	s.channels.Store(c.ID, agg)
	return nil
}

func (s *Store) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	agg, err := s.channel(id)
	if err != nil {
		return nil, err
	}
	agg.mu.RLock()
	defer agg.mu.RUnlock()
	if agg.deleted {
		return nil, repository.ErrNotFound
	}
	return agg.snapshot(), nil
}

func (s *Store) ListChannels(ctx context.Context) ([]model.Channel, error) {
	return s.collectChannels(func(*channelAgg) bool { return true }), nil
}

func (s *Store) ChannelsForUser(ctx context.Context, userID string) ([]model.Channel, error) {
	return s.collectChannels(func(a *channelAgg) bool {
		_, ok := a.members[userID]
		return ok
	}), nil
}

// collectChannels вызывает keep под блокировкой чтения агрегата.
func (s *Store) collectChannels(keep func(*channelAgg) bool) []model.Channel {
	out := make([]model.Channel, 0, 16)
	s.channels.Range(func(_, v any) bool {
		agg := v.(*channelAgg)
		agg.mu.RLock()
		if !agg.deleted && keep(agg) {
			out = append(out, *agg.snapshot())
		}
		agg.mu.RUnlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) UpdateChannel(ctx context.Context, id string, patch model.ChannelPatch) (*model.Channel, error) {
	agg, err := s.channel(id)
	if err != nil {
		return nil, err
	}
	agg.mu.Lock()
	defer agg.mu.Unlock()
	if agg.deleted {
		return nil, repository.ErrNotFound
	}
	oldName := agg.ch.Name
	if patch.Name != nil && *patch.Name != oldName {
		if owner, taken := s.names.LoadOrStore(*patch.Name, id); taken && owner != id {
			return nil, fmt.Errorf("memory.UpdateChannel %q: %w", *patch.Name, repository.ErrConflict)
		}
		s.names.CompareAndDelete(oldName, id)
	}
	agg.ch = patch.Apply(agg.ch)
	agg.ch.UpdatedAt = now()
	return agg.snapshot(), nil
}

func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	agg, err := s.channel(id)
	if err != nil {
		return err
	}
	agg.mu.Lock()
	if agg.deleted {
		agg.mu.Unlock()
		return repository.ErrNotFound
	}
	agg.deleted = true
	name := agg.ch.Name
	ids := agg.msgIDs
	agg.msgIDs = nil
	agg.mu.Unlock()

	s.channels.Delete(id)
	s.names.CompareAndDelete(name, id)
	for _, mid := range ids {
		if v, ok := s.messages.LoadAndDelete(mid); ok {
			m := v.(*messageAgg)
			m.mu.Lock()
			m.deleted = true
			m.mu.Unlock()
		}
	}
	return nil
}

func (s *Store) AddMember(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	agg, err := s.channel(channelID)
	if err != nil {
		return nil, err
	}
	agg.mu.Lock()
	defer agg.mu.Unlock()
	if agg.deleted {
		return nil, repository.ErrNotFound
	}
	if _, ok := agg.members[userID]; ok {
		return nil, repository.ErrAlreadyMember
	}
	agg.members[userID] = struct{}{}
	agg.ch.Members = append(agg.ch.Members, userID)
	agg.ch.UpdatedAt = now()
	return agg.snapshot(), nil
}

func (s *Store) RemoveMember(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	agg, err := s.channel(channelID)
	if err != nil {
		return nil, err
	}
	agg.mu.Lock()
	defer agg.mu.Unlock()
	if agg.deleted {
		return nil, repository.ErrNotFound
	}
	if _, ok := agg.members[userID]; !ok {
		return nil, repository.ErrNotMember
	}
	delete(agg.members, userID)
	kept := agg.ch.Members[:0]
	for _, id := range agg.ch.Members {
		if id != userID {
			kept = append(kept, id)
		}
	}
	agg.ch.Members = kept
	agg.ch.UpdatedAt = now()
	return agg.snapshot(), nil
}

func (s *Store) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	agg, err := s.channel(channelID)
	if err != nil {
		return false, err
	}
	agg.mu.RLock()
	defer agg.mu.RUnlock()
	if agg.deleted {
		return false, repository.ErrNotFound
	}
	_, ok := agg.members[userID]
	return ok, nil
}

// --- Messages ---

func (s *Store) message(id string) (*messageAgg, error) {
	v, ok := s.messages.Load(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return v.(*messageAgg), nil
}

func (a *messageAgg) snapshot() *model.Message {
	m := a.msg
	m.Replies, m.Reactions = model.BuildThread(a.replies, a.reactions)
	return &m
}

func (a *messageAgg) hasReply(id string) bool {
	for _, r := range a.replies {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	agg, err := s.channel(m.ChannelID)
	if err != nil {
		return err
	}
	agg.mu.Lock()
	defer agg.mu.Unlock()
	if agg.deleted {
		return repository.ErrNotFound
	}
	if agg.ch.Archived {
		return repository.ErrArchived
	}
	if _, ok := agg.members[m.UserID]; !ok {
		return repository.ErrNotMember
	}
	agg.lastSeq++
	m.Seq = agg.lastSeq
	m.Version = 1
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	m.UpdatedAt = m.CreatedAt
	m.Replies = []model.Reply{}
	m.Reactions = []model.Reaction{}

	stored := *m
	stored.Replies, stored.Reactions, stored.Author = nil, nil, nil
	s.messages.Store(m.ID, &messageAgg{msg: stored})
	agg.msgIDs = append(agg.msgIDs, m.ID)
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	agg, err := s.message(id)
	if err != nil {
		return nil, err
	}
	agg.mu.RLock()
	defer agg.mu.RUnlock()
	if agg.deleted {
		return nil, repository.ErrNotFound
	}
	return agg.snapshot(), nil
}

// channelArchived вызывается под блокировкой сообщения.
func (s *Store) channelArchived(channelID string) (bool, error) {
	agg, err := s.channel(channelID)
	if err != nil {
		return false, err
	}
	agg.mu.RLock()
	defer agg.mu.RUnlock()
	if agg.deleted {
		return false, repository.ErrNotFound
	}
	return agg.ch.Archived, nil
}

func (s *Store) AppendReply(ctx context.Context, r *model.Reply) error {
	agg, err := s.message(r.MessageID)
	if err != nil {
		return err
	}
	agg.mu.Lock()
	defer agg.mu.Unlock()
	if agg.deleted {
		return repository.ErrNotFound
	}
	if r.ParentID != "" && !agg.hasReply(r.ParentID) {
		return fmt.Errorf("memory.AppendReply parent %s: %w", r.ParentID, repository.ErrNotFound)
	}
	archived, err := s.channelArchived(agg.msg.ChannelID)
	if err != nil {
		return err
	}
	if archived {
		return repository.ErrArchived
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	r.Replies = []model.Reply{}
	r.Reactions = []model.Reaction{}
	stored := *r
	stored.Replies, stored.Reactions, stored.Author = nil, nil, nil
	agg.replies = append(agg.replies, stored)
	return nil
}

func (s *Store) AppendReaction(ctx context.Context, rc *model.Reaction) error {
	agg, err := s.message(rc.MessageID)
	if err != nil {
		return err
	}
	agg.mu.Lock()
	defer agg.mu.Unlock()
	if agg.deleted {
		return repository.ErrNotFound
	}
	if rc.ReplyID != "" && !agg.hasReply(rc.ReplyID) {
		return fmt.Errorf("memory.AppendReaction reply %s: %w", rc.ReplyID, repository.ErrNotFound)
	}
	archived, err := s.channelArchived(agg.msg.ChannelID)
	if err != nil {
		return err
	}
	if archived {
		return repository.ErrArchived
	}
	if rc.CreatedAt.IsZero() {
		rc.CreatedAt = now()
	}
	stored := *rc
	stored.Username = ""
	agg.reactions = append(agg.reactions, stored)
	return nil
}

func (s *Store) EditMessage(ctx context.Context, id, userID, content string, expectedVersion int64) (*model.Message, error) {
	agg, err := s.message(id)
	if err != nil {
		return nil, err
	}
	agg.mu.Lock()
	defer agg.mu.Unlock()
	if agg.deleted {
		return nil, repository.ErrNotFound
	}
	if agg.msg.UserID != userID {
		return nil, repository.ErrForbidden
	}
	if expectedVersion > 0 && expectedVersion != agg.msg.Version {
		return nil, fmt.Errorf("memory.EditMessage %s: have %d, want %d: %w", id, agg.msg.Version, expectedVersion, repository.ErrStaleVersion)
	}
	agg.msg.Content = content
	agg.msg.Version++
	agg.msg.UpdatedAt = now()
	return agg.snapshot(), nil
}

func (s *Store) DeleteMessage(ctx context.Context, id, userID string) (*model.Message, error) {
	agg, err := s.message(id)
	if err != nil {
		return nil, err
	}
	agg.mu.Lock()
	if agg.deleted {
		agg.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	if agg.msg.UserID != userID {
		agg.mu.Unlock()
		return nil, repository.ErrForbidden
	}
	agg.deleted = true
	snap := agg.snapshot()
	agg.mu.Unlock()

	s.messages.Delete(id)
	if ch, err := s.channel(snap.ChannelID); err == nil {
		ch.mu.Lock()
		for i, mid := range ch.msgIDs {
			if mid == id {
				ch.msgIDs = append(ch.msgIDs[:i], ch.msgIDs[i+1:]...)
				break
			}
		}
		ch.mu.Unlock()
	}
	return snap, nil
}

func (s *Store) setFlag(id string, set func(*model.Message)) (*model.Message, error) {
	agg, err := s.message(id)
	if err != nil {
		return nil, err
	}
	agg.mu.Lock()
	defer agg.mu.Unlock()
	if agg.deleted {
		return nil, repository.ErrNotFound
	}
	set(&agg.msg)
	return agg.snapshot(), nil
}

func (s *Store) SetPinned(ctx context.Context, id string, pinned bool) (*model.Message, error) {
	return s.setFlag(id, func(m *model.Message) { m.Pinned = pinned })
}

func (s *Store) SetUnread(ctx context.Context, id string, unread bool) (*model.Message, error) {
	return s.setFlag(id, func(m *model.Message) { m.Unread = unread })
}

func (s *Store) ListByChannel(ctx context.Context, channelID string) ([]model.Message, error) {
	agg, err := s.channel(channelID)
	if err != nil {
		return nil, err
	}
	agg.mu.RLock()
	if agg.deleted {
		agg.mu.RUnlock()
		return nil, repository.ErrNotFound
	}
	ids := append([]string(nil), agg.msgIDs...)
	agg.mu.RUnlock()

	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMessage(ctx, id)
		if err != nil {
			continue // удалено между чтениями
		}
		out = append(out, *m)
	}
	return out, nil
}

func (s *Store) ListPinned(ctx context.Context, channelID string) ([]model.Message, error) {
	all, err := s.ListByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	pinned := all[:0]
	for _, m := range all {
		if m.Pinned {
			pinned = append(pinned, m)
		}
	}
	return pinned, nil
}

func (s *Store) Search(ctx context.Context, keyword string) ([]model.Message, error) {
	needle := strings.ToLower(keyword)
	out := make([]model.Message, 0, 16)
	s.messages.Range(func(_, v any) bool {
		agg := v.(*messageAgg)
		agg.mu.RLock()
		if !agg.deleted && strings.Contains(strings.ToLower(agg.msg.Content), needle) {
			out = append(out, *agg.snapshot())
		}
		agg.mu.RUnlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].ChannelID != out[j].ChannelID {
			return out[i].ChannelID < out[j].ChannelID
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}
