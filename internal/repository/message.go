package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/model"
)

var messageCols = []string{
	"m.id", "m.channel_id", "m.user_id", "m.content", "m.seq", "m.version",
	"m.pinned", "m.unread", "m.created_at", "m.updated_at",
}

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &m.Seq, &m.Version,
		&m.Pinned, &m.Unread, &m.CreatedAt, &m.UpdatedAt)
}

// CreateMessage назначает Seq, увеличивая счётчик канала под блокировкой строки канала.
func (r *MessageRepository) CreateMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.UpdatedAt = m.CreatedAt
	m.Version = 1
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var archived, member bool
		err := queryRow(ctx, tx, psql.Select("c.archived").
			Column(sq.Expr("EXISTS (SELECT 1 FROM channel_members cm WHERE cm.channel_id = c.id AND cm.user_id = ?)", m.UserID)).
			From("channels c").
			Where(sq.Eq{"c.id": m.ChannelID}).
			Suffix("FOR UPDATE OF c")).Scan(&archived, &member)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("msgRepo.Create channel: %w", err)
		}
		if archived {
			return ErrArchived
		}
		if !member {
			return ErrNotMember
		}
		err = queryRow(ctx, tx, psql.Update("channels").
			Set("last_seq", sq.Expr("last_seq + 1")).
			Where(sq.Eq{"id": m.ChannelID}).
			Suffix("RETURNING last_seq")).Scan(&m.Seq)
		if err != nil {
			return fmt.Errorf("msgRepo.Create seq: %w", err)
		}
		_, err = exec(ctx, tx, psql.Insert("messages").
			Columns("id", "channel_id", "user_id", "content", "seq", "version", "pinned", "unread", "created_at", "updated_at").
			Values(m.ID, m.ChannelID, m.UserID, m.Content, m.Seq, m.Version, m.Pinned, m.Unread, m.CreatedAt, m.UpdatedAt))
		if err != nil {
			return fmt.Errorf("msgRepo.Create: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.Replies = []model.Reply{}
	m.Reactions = []model.Reaction{}
	return nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Get", time.Now())()
	return getMessage(ctx, r.pool, id)
}

func getMessage(ctx context.Context, q querier, id string) (*model.Message, error) {
	msgs, err := listMessages(ctx, q, psql.Select(messageCols...).From("messages m").Where(sq.Eq{"m.id": id}))
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

// listMessages читает сообщения и достраивает их треды.
func listMessages(ctx context.Context, q querier, b sq.SelectBuilder) ([]model.Message, error) {
	rows, err := query(ctx, q, b)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.list query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, 16)
	ids := make([]string, 0, 16)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.list scan: %w", err)
		}
		msgs = append(msgs, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.list rows: %w", err)
	}
	rows.Close()

	replies, reactions, err := loadThreads(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Replies, msgs[i].Reactions = model.BuildThread(replies[msgs[i].ID], reactions[msgs[i].ID])
	}
	return msgs, nil
}

// loadThreads возвращает плоские ответы и реакции, сгруппированные по сообщению, в порядке добавления.
func loadThreads(ctx context.Context, q querier, messageIDs []string) (map[string][]model.Reply, map[string][]model.Reaction, error) {
	replies := make(map[string][]model.Reply, len(messageIDs))
	reactions := make(map[string][]model.Reaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return replies, reactions, nil
	}

	rows, err := query(ctx, q, psql.Select("id", "message_id", "COALESCE(parent_id, '')", "user_id", "content", "created_at").
		From("message_replies").
		Where(sq.Eq{"message_id": messageIDs}).
		OrderBy("pos"))
	if err != nil {
		return nil, nil, fmt.Errorf("msgRepo.replies query: %w", err)
	}
	for rows.Next() {
		var rp model.Reply
		if err := rows.Scan(&rp.ID, &rp.MessageID, &rp.ParentID, &rp.UserID, &rp.Content, &rp.CreatedAt); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("msgRepo.replies scan: %w", err)
		}
		replies[rp.MessageID] = append(replies[rp.MessageID], rp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("msgRepo.replies rows: %w", err)
	}

	rows, err = query(ctx, q, psql.Select("id", "message_id", "COALESCE(reply_id, '')", "user_id", "emoji", "created_at").
		From("message_reactions").
		Where(sq.Eq{"message_id": messageIDs}).
		OrderBy("pos"))
	if err != nil {
		return nil, nil, fmt.Errorf("msgRepo.reactions query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.ID, &rc.MessageID, &rc.ReplyID, &rc.UserID, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("msgRepo.reactions scan: %w", err)
		}
		reactions[rc.MessageID] = append(reactions[rc.MessageID], rc)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("msgRepo.reactions rows: %w", err)
	}
	return replies, reactions, nil
}

// lockForThread блокирует сообщение и проверяет, что в канал можно писать.
func lockForThread(ctx context.Context, tx pgx.Tx, messageID string) error {
	var archived bool
	err := queryRow(ctx, tx, psql.Select("c.archived").
		From("messages m").
		Join("channels c ON c.id = m.channel_id").
		Where(sq.Eq{"m.id": messageID}).
		Suffix("FOR UPDATE OF m")).Scan(&archived)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("msgRepo.lock: %w", err)
	}
	if archived {
		return ErrArchived
	}
	return nil
}

// replyExists проверяет, что ответ принадлежит тому же сообщению.
func replyExists(ctx context.Context, tx pgx.Tx, messageID, replyID string) error {
	var ok bool
	err := queryRow(ctx, tx, psql.Select().Column(sq.Expr("EXISTS (SELECT 1 FROM message_replies WHERE id = ? AND message_id = ?)", replyID, messageID))).Scan(&ok)
	if err != nil {
		return fmt.Errorf("msgRepo.replyExists: %w", err)
	}
	if !ok {
		return fmt.Errorf("reply %s: %w", replyID, ErrNotFound)
	}
	return nil
}

func (r *MessageRepository) AppendReply(ctx context.Context, rp *model.Reply) error {
	defer logger.DeferLogDuration("msg.AppendReply", time.Now())()
	if rp.CreatedAt.IsZero() {
		rp.CreatedAt = time.Now().UTC()
	}
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockForThread(ctx, tx, rp.MessageID); err != nil {
			return err
		}
		if rp.ParentID != "" {
			if err := replyExists(ctx, tx, rp.MessageID, rp.ParentID); err != nil {
				return err
			}
		}
		_, err := exec(ctx, tx, psql.Insert("message_replies").
			Columns("id", "message_id", "parent_id", "user_id", "content", "created_at").
			Values(rp.ID, rp.MessageID, nullable(rp.ParentID), rp.UserID, rp.Content, rp.CreatedAt))
		if err != nil {
			return fmt.Errorf("msgRepo.AppendReply: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	rp.Replies = []model.Reply{}
	rp.Reactions = []model.Reaction{}
	return nil
}

func (r *MessageRepository) AppendReaction(ctx context.Context, rc *model.Reaction) error {
	defer logger.DeferLogDuration("msg.AppendReaction", time.Now())()
	if rc.CreatedAt.IsZero() {
		rc.CreatedAt = time.Now().UTC()
	}
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockForThread(ctx, tx, rc.MessageID); err != nil {
			return err
		}
		if rc.ReplyID != "" {
			if err := replyExists(ctx, tx, rc.MessageID, rc.ReplyID); err != nil {
				return err
			}
		}
		_, err := exec(ctx, tx, psql.Insert("message_reactions").
			Columns("id", "message_id", "reply_id", "user_id", "emoji", "created_at").
			Values(rc.ID, rc.MessageID, nullable(rc.ReplyID), rc.UserID, rc.Emoji, rc.CreatedAt))
		if err != nil {
			return fmt.Errorf("msgRepo.AppendReaction: %w", err)
		}
		return nil
	})
}

// lockOwned блокирует сообщение и проверяет автора. Возвращает текущую версию.
func lockOwned(ctx context.Context, tx pgx.Tx, id, userID string) (int64, error) {
	var owner string
	var version int64
	err := queryRow(ctx, tx, psql.Select("user_id", "version").
		From("messages").
		Where(sq.Eq{"id": id}).
		Suffix("FOR UPDATE")).Scan(&owner, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("msgRepo.lock: %w", err)
	}
	if owner != userID {
		return 0, ErrForbidden
	}
	return version, nil
}

func (r *MessageRepository) EditMessage(ctx context.Context, id, userID, content string, expectedVersion int64) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Edit", time.Now())()
	var out *model.Message
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		version, err := lockOwned(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		if expectedVersion > 0 && expectedVersion != version {
			return fmt.Errorf("msgRepo.Edit %s: have %d, want %d: %w", id, version, expectedVersion, ErrStaleVersion)
		}
		_, err = exec(ctx, tx, psql.Update("messages").
			Set("content", content).
			Set("version", sq.Expr("version + 1")).
			Set("updated_at", time.Now().UTC()).
			Where(sq.Eq{"id": id}))
		if err != nil {
			return fmt.Errorf("msgRepo.Edit: %w", err)
		}
		out, err = getMessage(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteMessage возвращает сообщение в состоянии на момент удаления.
func (r *MessageRepository) DeleteMessage(ctx context.Context, id, userID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Delete", time.Now())()
	var out *model.Message
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockOwned(ctx, tx, id, userID); err != nil {
			return err
		}
		m, err := getMessage(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := exec(ctx, tx, psql.Delete("messages").Where(sq.Eq{"id": id})); err != nil {
			return fmt.Errorf("msgRepo.Delete: %w", err)
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MessageRepository) setFlag(ctx context.Context, id, column string, value bool) (*model.Message, error) {
	tag, err := exec(ctx, r.pool, psql.Update("messages").Set(column, value).Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, fmt.Errorf("msgRepo.set %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return getMessage(ctx, r.pool, id)
}

func (r *MessageRepository) SetPinned(ctx context.Context, id string, pinned bool) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.SetPinned", time.Now())()
	return r.setFlag(ctx, id, "pinned", pinned)
}

func (r *MessageRepository) SetUnread(ctx context.Context, id string, unread bool) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.SetUnread", time.Now())()
	return r.setFlag(ctx, id, "unread", unread)
}

func (r *MessageRepository) channelExists(ctx context.Context, channelID string) error {
	var ok bool
	err := queryRow(ctx, r.pool, psql.Select().Column(sq.Expr("EXISTS (SELECT 1 FROM channels WHERE id = ?)", channelID))).Scan(&ok)
	if err != nil {
		return fmt.Errorf("msgRepo.channelExists: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *MessageRepository) ListByChannel(ctx context.Context, channelID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByChannel", time.Now())()
	if err := r.channelExists(ctx, channelID); err != nil {
		return nil, err
	}
	return listMessages(ctx, r.pool, psql.Select(messageCols...).
		From("messages m").
		Where(sq.Eq{"m.channel_id": channelID}).
		OrderBy("m.seq"))
}

func (r *MessageRepository) ListPinned(ctx context.Context, channelID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListPinned", time.Now())()
	if err := r.channelExists(ctx, channelID); err != nil {
		return nil, err
	}
	return listMessages(ctx, r.pool, psql.Select(messageCols...).
		From("messages m").
		Where(sq.Eq{"m.channel_id": channelID, "m.pinned": true}).
		OrderBy("m.seq"))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search ищет подстроку без учёта регистра; % и _ в запросе трактуются буквально.
func (r *MessageRepository) Search(ctx context.Context, keyword string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.Search", time.Now())()
	return listMessages(ctx, r.pool, psql.Select(messageCols...).
		From("messages m").
		Where(sq.ILike{"m.content": "%" + likeEscaper.Replace(keyword) + "%"}).
		OrderBy("m.created_at", "m.channel_id", "m.seq"))
}
