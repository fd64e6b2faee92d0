package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/channelhub/internal/guard"
	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/repository"
)

func messageContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", validation("content is required")
	}
	if utf8.RuneCountInString(content) > maxContent {
		return "", validation("content is longer than %d characters", maxContent)
	}
	return content, nil
}

// PostMessage сохраняет сообщение и рассылает его в комнату канала как "new message".
// Возвращается тот же каноничный объект, что получают сессии.
func (s *Service) PostMessage(ctx context.Context, userID, channelID, content string) (*model.Message, error) {
	content, err := messageContent(content)
	if err != nil {
		return nil, err
	}
	ch, err := s.guard.RequireWrite(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}
	author, err := s.publicUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	m := &model.Message{
		ID:        uuid.New().String(),
		ChannelID: channelID,
		UserID:    userID,
		Content:   content,
	}
	unlock := s.lockChannel(channelID)
	if err := s.messages.CreateMessage(ctx, m); err != nil {
		unlock()
		return nil, fmt.Errorf("post message: %w", err)
	}
	m.Author = &author
	s.events.Publish(model.Event{Type: model.EventMessageCreated, ChannelID: channelID, Payload: *m})
	unlock()

	s.notifyAbsent(ch, m)
	return m, nil
}

// ConfirmPosted проверяет подсказку клиента о сообщении, уже созданном через REST.
// Ничего не записывает и не рассылает: каноничное событие ушло в комнату при фиксации.
func (s *Service) ConfirmPosted(ctx context.Context, userID, channelID, messageID string) (*model.Message, error) {
	if _, err := s.guard.RequireRead(ctx, userID, channelID); err != nil {
		return nil, err
	}
	m, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("confirm message: %w", err)
	}
	if m.ChannelID != channelID {
		return nil, fmt.Errorf("confirm message %s in channel %s: %w", messageID, channelID, repository.ErrNotFound)
	}
	return m, nil
}

// EditMessage меняет текст своего сообщения. expectedVersion > 0 включает оптимистичную проверку.
func (s *Service) EditMessage(ctx context.Context, userID, messageID, content string, expectedVersion int64) (*model.Message, error) {
	content, err := messageContent(content)
	if err != nil {
		return nil, err
	}
	current, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	if err := guard.RequireModify(userID, current.UserID); err != nil {
		return nil, err
	}

	unlock := s.lockChannel(current.ChannelID)
	defer unlock()
	m, err := s.messages.EditMessage(ctx, messageID, userID, content, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	if err := s.resolveMessage(ctx, m); err != nil {
		return nil, err
	}
	s.events.Publish(model.Event{Type: model.EventMessageUpdated, ChannelID: m.ChannelID, Payload: *m})
	return m, nil
}

func (s *Service) DeleteMessage(ctx context.Context, userID, messageID string) error {
	current, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if err := guard.RequireModify(userID, current.UserID); err != nil {
		return err
	}

	unlock := s.lockChannel(current.ChannelID)
	defer unlock()
	m, err := s.messages.DeleteMessage(ctx, messageID, userID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	s.events.Publish(model.Event{
		Type:      model.EventMessageDeleted,
		ChannelID: m.ChannelID,
		Payload:   model.MessageRef{MessageID: m.ID, ChannelID: m.ChannelID},
	})
	return nil
}

// ReplyToMessage добавляет ответ к сообщению или, если задан parentReplyID, к ответу на любой глубине.
func (s *Service) ReplyToMessage(ctx context.Context, userID, messageID, parentReplyID, content string) (*model.Reply, error) {
	content, err := messageContent(content)
	if err != nil {
		return nil, err
	}
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("reply: %w", err)
	}
	if _, err := s.guard.RequireWrite(ctx, userID, msg.ChannelID); err != nil {
		return nil, err
	}
	author, err := s.publicUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	r := &model.Reply{
		ID:        uuid.New().String(),
		MessageID: messageID,
		ParentID:  strings.TrimSpace(parentReplyID),
		UserID:    userID,
		Content:   content,
	}
	unlock := s.lockChannel(msg.ChannelID)
	defer unlock()
	if err := s.messages.AppendReply(ctx, r); err != nil {
		return nil, fmt.Errorf("reply: %w", err)
	}
	r.Author = &author
	s.events.Publish(model.Event{
		Type:      model.EventMessageReplied,
		ChannelID: msg.ChannelID,
		Payload:   model.ReplyEvent{MessageID: messageID, ChannelID: msg.ChannelID, Reply: *r},
	})
	return r, nil
}

// ReactToMessage добавляет реакцию на сообщение или (replyID) на ответ.
// Повторная одинаковая реакция того же пользователя добавляется ещё раз.
func (s *Service) ReactToMessage(ctx context.Context, userID, messageID, replyID, emoji string) (*model.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, validation("emoji is required")
	}
	if utf8.RuneCountInString(emoji) > maxEmoji {
		return nil, validation("emoji is longer than %d characters", maxEmoji)
	}
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("react: %w", err)
	}
	if _, err := s.guard.RequireWrite(ctx, userID, msg.ChannelID); err != nil {
		return nil, err
	}
	who, err := s.displayUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	rc := &model.Reaction{
		ID:        uuid.New().String(),
		MessageID: messageID,
		ReplyID:   strings.TrimSpace(replyID),
		UserID:    userID,
		Emoji:     emoji,
	}
	unlock := s.lockChannel(msg.ChannelID)
	defer unlock()
	if err := s.messages.AppendReaction(ctx, rc); err != nil {
		return nil, fmt.Errorf("react: %w", err)
	}
	rc.Username = who.Username
	s.events.Publish(model.Event{
		Type:      model.EventMessageReacted,
		ChannelID: msg.ChannelID,
		Payload:   model.ReactionEvent{MessageID: messageID, ChannelID: msg.ChannelID, Reaction: *rc},
	})
	return rc, nil
}

// SetPinned закрепляет или открепляет сообщение. Доступно любому участнику канала.
func (s *Service) SetPinned(ctx context.Context, userID, messageID string, pinned bool) (*model.Message, error) {
	return s.setFlag(ctx, userID, messageID, pinned, model.EventMessagePinned, s.messages.SetPinned)
}

// SetUnread помечает сообщение непрочитанным (или снимает пометку).
func (s *Service) SetUnread(ctx context.Context, userID, messageID string, unread bool) (*model.Message, error) {
	return s.setFlag(ctx, userID, messageID, unread, model.EventMessageUnread, s.messages.SetUnread)
}

func (s *Service) setFlag(
	ctx context.Context,
	userID, messageID string,
	value bool,
	evType model.EventType,
	set func(ctx context.Context, id string, v bool) (*model.Message, error),
) (*model.Message, error) {
	current, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", evType, err)
	}
	if _, err := s.guard.RequireWrite(ctx, userID, current.ChannelID); err != nil {
		return nil, err
	}

	unlock := s.lockChannel(current.ChannelID)
	defer unlock()
	m, err := set(ctx, messageID, value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", evType, err)
	}
	if err := s.resolveMessage(ctx, m); err != nil {
		return nil, err
	}
	s.events.Publish(model.Event{
		Type:      evType,
		ChannelID: m.ChannelID,
		Payload:   model.FlagEvent{MessageID: m.ID, ChannelID: m.ChannelID, Value: value, ActorID: userID},
	})
	return m, nil
}

// ListMessagesByChannel возвращает сообщения канала по порядку фиксации с полными тредами
// и отображаемыми полями авторов.
func (s *Service) ListMessagesByChannel(ctx context.Context, userID, channelID string) ([]model.Message, error) {
	if _, err := s.guard.RequireRead(ctx, userID, channelID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if err := s.resolveMessages(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Service) ListPinned(ctx context.Context, userID, channelID string) ([]model.Message, error) {
	if _, err := s.guard.RequireRead(ctx, userID, channelID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListPinned(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("list pinned: %w", err)
	}
	if err := s.resolveMessages(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SearchMessages ищет подстроку без учёта регистра. Без ScopeSearch результаты
// не фильтруются по членству.
func (s *Service) SearchMessages(ctx context.Context, userID, keyword string) ([]model.Message, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, validation("keyword is required")
	}
	msgs, err := s.messages.Search(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	if s.scopeSearch {
		msgs, err = s.readable(ctx, userID, msgs)
		if err != nil {
			return nil, err
		}
	}
	if err := s.resolveMessages(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Service) readable(ctx context.Context, userID string, msgs []model.Message) ([]model.Message, error) {
	allowed := make(map[string]bool, 8)
	out := msgs[:0]
	for _, m := range msgs {
		ok, seen := allowed[m.ChannelID]
		if !seen {
			ch, err := s.channels.GetChannel(ctx, m.ChannelID)
			switch {
			case err == nil:
				ok = guard.CanRead(userID, ch)
			case KindOf(err) == KindNotFound:
				ok = false
			default:
				return nil, fmt.Errorf("search scope: %w", err)
			}
			allowed[m.ChannelID] = ok
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Service) resolveMessage(ctx context.Context, m *model.Message) error {
	one := []model.Message{*m}
	if err := s.resolveMessages(ctx, one); err != nil {
		return err
	}
	*m = one[0]
	return nil
}

// resolveMessages проставляет авторов сообщениям, ответам и реакциям одним запросом к справочнику.
func (s *Service) resolveMessages(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].UserID)
		ids = collectUserIDs(ids, msgs[i].Replies, msgs[i].Reactions)
	}
	users, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolve authors: %w", err)
	}
	byID := make(map[string]model.UserPublic, len(users))
	for i := range users {
		byID[users[i].ID] = users[i].ToPublic()
	}
	for i := range msgs {
		if u, ok := byID[msgs[i].UserID]; ok {
			msgs[i].Author = &u
		}
		applyAuthors(byID, msgs[i].Replies, msgs[i].Reactions)
	}
	return nil
}

func collectUserIDs(ids []string, replies []model.Reply, reactions []model.Reaction) []string {
	for _, rc := range reactions {
		ids = append(ids, rc.UserID)
	}
	for _, r := range replies {
		ids = append(ids, r.UserID)
		ids = collectUserIDs(ids, r.Replies, r.Reactions)
	}
	return ids
}

func applyAuthors(byID map[string]model.UserPublic, replies []model.Reply, reactions []model.Reaction) {
	for i := range reactions {
		if u, ok := byID[reactions[i].UserID]; ok {
			reactions[i].Username = u.Username
		}
	}
	for i := range replies {
		if u, ok := byID[replies[i].UserID]; ok {
			replies[i].Author = &u
		}
		applyAuthors(byID, replies[i].Replies, replies[i].Reactions)
	}
}

// notifyAbsent отправляет пуш участникам, у которых сейчас нет сессии в комнате канала.
func (s *Service) notifyAbsent(ch *model.Channel, m *model.Message) {
	if s.push == nil || !ch.Notifications.Push {
		return
	}
	present := s.registry.UsersIn(ch.ID)
	title := "#" + ch.Name
	body := m.Content
	if m.Author != nil && m.Author.Username != "" {
		body = m.Author.Username + ": " + body
	}
	if utf8.RuneCountInString(body) > pushPreview {
		body = string([]rune(body)[:pushPreview]) + "…"
	}
	data := map[string]string{"channel_id": ch.ID, "message_id": m.ID}
	var recipients []string
	for _, uid := range ch.Members {
		if uid == m.UserID {
			continue
		}
		if _, ok := present[uid]; ok {
			continue
		}
		recipients = append(recipients, uid)
	}
	if len(recipients) == 0 {
		return
	}
	go s.sendPushes(recipients, title, body, data)
	logger.Debugf("push fan-out channel=%s message=%s recipients=%d", ch.ID, m.ID, len(recipients))
}

// sendPushes рассылает пуши не больше чем в pushParallel горутин на весь сервис.
func (s *Service) sendPushes(recipients []string, title, body string, data map[string]string) {
	for _, uid := range recipients {
		s.pushSlots <- struct{}{}
		go func(uid string) {
			defer func() { <-s.pushSlots }()
			ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
			defer cancel()
			s.push.Notify(ctx, uid, title, body, data)
		}(uid)
	}
}
