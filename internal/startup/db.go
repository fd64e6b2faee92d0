package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectDB открывает пул Postgres и проверяет его ping-ом, повторяя попытки до maxWait.
func ConnectDB(ctx context.Context, databaseURL string, maxConns int, maxWait time.Duration) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(maxConns)
	if poolCfg.MaxConns < 4 {
		poolCfg.MinConns = 1
	} else {
		poolCfg.MinConns = 4
	}

	return withRetry(ctx, "db connect", maxWait, func(ctx context.Context) (*pgxpool.Pool, error) {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(connCtx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(connCtx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	})
}
