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

var userCols = []string{"id", "username", "email", "avatar_url", "created_at"}

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser сканирует строку в model.User (порядок соответствует userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.CreatedAt)
}

// UpsertUser синхронизирует профиль из auth-сервиса.
func (r *UserRepository) UpsertUser(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Upsert", time.Now())()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := exec(ctx, r.pool, psql.Insert("users").
		Columns(userCols...).
		Values(u.ID, u.Username, u.Email, u.AvatarURL, u.CreatedAt).
		Suffix("ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, email = EXCLUDED.email, avatar_url = EXCLUDED.avatar_url"))
	if err != nil {
		return fmt.Errorf("userRepo.Upsert: %w", err)
	}
	return nil
}

// EnsureUser заводит пользователя, если его ещё нет. Существующая запись не меняется.
func (r *UserRepository) EnsureUser(ctx context.Context, id, username string) error {
	if username == "" {
		username = id
	}
	_, err := exec(ctx, r.pool, psql.Insert("users").
		Columns("id", "username").
		Values(id, username).
		Suffix("ON CONFLICT (id) DO NOTHING"))
	if err != nil {
		return fmt.Errorf("userRepo.EnsureUser: %w", err)
	}
	return nil
}

func (r *UserRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetUser", time.Now())()
	u := &model.User{}
	row := queryRow(ctx, r.pool, psql.Select(userCols...).From("users").Where(sq.Eq{"id": id}))
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetUser: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetUsers(ctx context.Context, ids []string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.GetUsers", time.Now())()
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	rows, err := query(ctx, r.pool, psql.Select(userCols...).From("users").Where(sq.Eq{"id": ids}))
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetUsers query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, len(ids))
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.GetUsers scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.GetUsers rows: %w", err)
	}
	return users, nil
}
