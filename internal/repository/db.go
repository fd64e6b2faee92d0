package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// psql строит запросы с плейсхолдерами $1, $2, ... (pgx не понимает "?").
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// querier — общее у *pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type sqlizer interface {
	ToSql() (string, []any, error)
}

func exec(ctx context.Context, q querier, b sqlizer) (pgconn.CommandTag, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("build sql: %w", err)
	}
	return q.Exec(ctx, query, args...)
}

func query(ctx context.Context, q querier, b sqlizer) (pgx.Rows, error) {
	sqlStr, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql: %w", err)
	}
	return q.Query(ctx, sqlStr, args...)
}

// queryRow при ошибке сборки запроса возвращает строку, чей Scan отдаёт эту ошибку.
func queryRow(ctx context.Context, q querier, b sqlizer) pgx.Row {
	sqlStr, args, err := b.ToSql()
	if err != nil {
		return errRow{fmt.Errorf("build sql: %w", err)}
	}
	return q.QueryRow(ctx, sqlStr, args...)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// inTx выполняет fn в транзакции; ошибка fn откатывает её.
func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// nullable превращает пустую строку в NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// PostgresStore — Postgres-реализация всех хранилищ ядра сообщений.
type PostgresStore struct {
	*ChannelRepository
	*MessageRepository
	*UserRepository
}

var _ Store = (*PostgresStore)(nil)

func NewStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		ChannelRepository: NewChannelRepository(pool),
		MessageRepository: NewMessageRepository(pool),
		UserRepository:    NewUserRepository(pool),
	}
}
