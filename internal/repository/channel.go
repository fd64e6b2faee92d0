package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/model"
)

var channelCols = []string{
	"c.id", "c.name", "c.kind", "c.description", "c.archived",
	"c.notify_email", "c.notify_push", "c.notify_in_app",
	"c.created_by", "c.created_at", "c.updated_at",
}

type ChannelRepository struct {
	pool *pgxpool.Pool
}

func NewChannelRepository(pool *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{pool: pool}
}

func scanChannel(s interface{ Scan(dest ...any) error }, c *model.Channel) error {
	var kind string
	err := s.Scan(&c.ID, &c.Name, &kind, &c.Description, &c.Archived,
		&c.Notifications.Email, &c.Notifications.Push, &c.Notifications.InApp,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	c.Kind = model.ChannelKind(kind)
	return err
}

func (r *ChannelRepository) CreateChannel(ctx context.Context, c *model.Channel) error {
	defer logger.DeferLogDuration("channel.Create", time.Now())()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := exec(ctx, tx, psql.Insert("channels").
			Columns("id", "name", "kind", "description", "archived",
				"notify_email", "notify_push", "notify_in_app",
				"created_by", "created_at", "updated_at").
			Values(c.ID, c.Name, string(c.Kind), c.Description, c.Archived,
				c.Notifications.Email, c.Notifications.Push, c.Notifications.InApp,
				c.CreatedBy, c.CreatedAt, c.UpdatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("channelRepo.Create %q: %w", c.Name, ErrConflict)
			}
			return fmt.Errorf("channelRepo.Create: %w", err)
		}
		_, err = exec(ctx, tx, psql.Insert("channel_members").
			Columns("channel_id", "user_id", "joined_at").
			Values(c.ID, c.CreatedBy, c.CreatedAt))
		if err != nil {
			return fmt.Errorf("channelRepo.Create member: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.Members = []string{c.CreatedBy}
	return nil
}

func (r *ChannelRepository) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.Get", time.Now())()
	return getChannel(ctx, r.pool, id, false)
}

// getChannel читает канал с участниками. forUpdate блокирует строку канала до конца транзакции.
func getChannel(ctx context.Context, q querier, id string, forUpdate bool) (*model.Channel, error) {
	b := psql.Select(channelCols...).From("channels c").Where(sq.Eq{"c.id": id})
	if forUpdate {
		b = b.Suffix("FOR UPDATE")
	}
	c := &model.Channel{}
	if err := scanChannel(queryRow(ctx, q, b), c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("channelRepo.Get: %w", err)
	}
	members, err := loadMembers(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	c.Members = nonNilStrings(members[id])
	return c, nil
}

// loadMembers возвращает участников каналов в порядке вступления.
func loadMembers(ctx context.Context, q querier, channelIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(channelIDs))
	if len(channelIDs) == 0 {
		return out, nil
	}
	rows, err := query(ctx, q, psql.Select("channel_id", "user_id").
		From("channel_members").
		Where(sq.Eq{"channel_id": channelIDs}).
		OrderBy("pos"))
	if err != nil {
		return nil, fmt.Errorf("channelRepo.loadMembers query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var channelID, userID string
		if err := rows.Scan(&channelID, &userID); err != nil {
			return nil, fmt.Errorf("channelRepo.loadMembers scan: %w", err)
		}
		out[channelID] = append(out[channelID], userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channelRepo.loadMembers rows: %w", err)
	}
	return out, nil
}

func (r *ChannelRepository) ListChannels(ctx context.Context) ([]model.Channel, error) {
	defer logger.DeferLogDuration("channel.List", time.Now())()
	return r.listChannels(ctx, psql.Select(channelCols...).From("channels c"))
}

func (r *ChannelRepository) ChannelsForUser(ctx context.Context, userID string) ([]model.Channel, error) {
	defer logger.DeferLogDuration("channel.ForUser", time.Now())()
	return r.listChannels(ctx, psql.Select(channelCols...).
		From("channels c").
		Join("channel_members cm ON cm.channel_id = c.id").
		Where(sq.Eq{"cm.user_id": userID}))
}

func (r *ChannelRepository) listChannels(ctx context.Context, b sq.SelectBuilder) ([]model.Channel, error) {
	rows, err := query(ctx, r.pool, b.OrderBy("c.created_at", "c.id"))
	if err != nil {
		return nil, fmt.Errorf("channelRepo.list query: %w", err)
	}
	defer rows.Close()

	channels := make([]model.Channel, 0, 16)
	ids := make([]string, 0, 16)
	for rows.Next() {
		var c model.Channel
		if err := scanChannel(rows, &c); err != nil {
			return nil, fmt.Errorf("channelRepo.list scan: %w", err)
		}
		channels = append(channels, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channelRepo.list rows: %w", err)
	}
	rows.Close()

	members, err := loadMembers(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range channels {
		channels[i].Members = nonNilStrings(members[channels[i].ID])
	}
	return channels, nil
}

func (r *ChannelRepository) UpdateChannel(ctx context.Context, id string, patch model.ChannelPatch) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.Update", time.Now())()
	var out *model.Channel
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		cur, err := getChannel(ctx, tx, id, true)
		if err != nil {
			return err
		}
		next := patch.Apply(*cur)
		next.UpdatedAt = time.Now().UTC()
		_, err = exec(ctx, tx, psql.Update("channels").
			Set("name", next.Name).
			Set("kind", string(next.Kind)).
			Set("description", next.Description).
			Set("archived", next.Archived).
			Set("notify_email", next.Notifications.Email).
			Set("notify_push", next.Notifications.Push).
			Set("notify_in_app", next.Notifications.InApp).
			Set("updated_at", next.UpdatedAt).
			Where(sq.Eq{"id": id}))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("channelRepo.Update %q: %w", next.Name, ErrConflict)
			}
			return fmt.Errorf("channelRepo.Update: %w", err)
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteChannel удаляет канал; сообщения, ответы и реакции уходят каскадом.
func (r *ChannelRepository) DeleteChannel(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("channel.Delete", time.Now())()
	tag, err := exec(ctx, r.pool, psql.Delete("channels").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("channelRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ChannelRepository) AddMember(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.AddMember", time.Now())()
	return r.changeMembers(ctx, channelID, func(tx pgx.Tx, now time.Time) error {
		tag, err := exec(ctx, tx, psql.Insert("channel_members").
			Columns("channel_id", "user_id", "joined_at").
			Values(channelID, userID, now).
			Suffix("ON CONFLICT (channel_id, user_id) DO NOTHING"))
		if err != nil {
			return fmt.Errorf("channelRepo.AddMember: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadyMember
		}
		return nil
	})
}

func (r *ChannelRepository) RemoveMember(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.RemoveMember", time.Now())()
	return r.changeMembers(ctx, channelID, func(tx pgx.Tx, _ time.Time) error {
		tag, err := exec(ctx, tx, psql.Delete("channel_members").
			Where(sq.Eq{"channel_id": channelID, "user_id": userID}))
		if err != nil {
			return fmt.Errorf("channelRepo.RemoveMember: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotMember
		}
		return nil
	})
}

// changeMembers блокирует канал, применяет change и возвращает канал с новым составом.
func (r *ChannelRepository) changeMembers(ctx context.Context, channelID string, change func(tx pgx.Tx, now time.Time) error) (*model.Channel, error) {
	var out *model.Channel
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := getChannel(ctx, tx, channelID, true); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := change(tx, now); err != nil {
			return err
		}
		if _, err := exec(ctx, tx, psql.Update("channels").Set("updated_at", now).Where(sq.Eq{"id": channelID})); err != nil {
			return fmt.Errorf("channelRepo.touch: %w", err)
		}
		c, err := getChannel(ctx, tx, channelID, false)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ChannelRepository) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	var member bool
	err := queryRow(ctx, r.pool, psql.Select("cm.user_id IS NOT NULL").
		From("channels c").
		LeftJoin("channel_members cm ON cm.channel_id = c.id AND cm.user_id = ?", userID).
		Where(sq.Eq{"c.id": channelID})).Scan(&member)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("channelRepo.IsMember: %w", err)
	}
	return member, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
