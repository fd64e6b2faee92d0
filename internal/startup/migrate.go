package startup

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/migrations"
)

// RunMigrations применяет встроенные .sql файлы по порядку имён.
// Миграции идемпотентны (IF NOT EXISTS) и выполняются при каждом старте.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	defer logger.DeferLogDuration("startup.RunMigrations", time.Now())()
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := fs.ReadFile(migrations.Files, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
		logger.Debugf("migration applied: %s", name)
	}
	logger.Infof("migrations applied (%d)", len(names))
	return nil
}
