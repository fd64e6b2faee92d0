package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/channelhub/internal/broadcast"
	"github.com/channelhub/internal/config"
	"github.com/channelhub/internal/handler"
	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/middleware"
	"github.com/channelhub/internal/push"
	"github.com/channelhub/internal/repository"
	"github.com/channelhub/internal/room"
	"github.com/channelhub/internal/service"
	"github.com/channelhub/internal/startup"
	"github.com/channelhub/internal/storage"
	"github.com/channelhub/internal/storage/memory"
	"github.com/channelhub/internal/ws"
)

// appStore — хранилище ядра плюс регистрация пользователей для dev-авторизации.
type appStore interface {
	repository.Store
	middleware.DevUserRegistrar
}

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep channels and messages in process memory (no database)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	var store appStore
	if *inMemory {
		logger.Info("store: in-memory")
		store = memory.NewStore()
	} else {
		if *dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				logger.Errorf("embedded postgres: %v", err)
				os.Exit(1)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}

		pool, err := startup.ConnectDB(rootCtx, cfg.DatabaseURL(), cfg.DBMaxConnections(), 60*time.Second)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		defer pool.Close()

		migrateCtx, migrateCancel := context.WithTimeout(rootCtx, 30*time.Second)
		err = startup.RunMigrations(migrateCtx, pool)
		migrateCancel()
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		if *migrate && !*dev {
			return
		}
		logger.Info("database connected, migrations applied")
		store = repository.NewStore(pool)
	}

	var relay storage.EventRelay
	if cfg.RedisURL != "" {
		redisRelay, err := startup.ConnectRelay(rootCtx, cfg.RedisURL, 60*time.Second)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		relay = redisRelay
		logger.Info("event relay: redis")
	} else {
		relay = memory.New()
		logger.Info("event relay: in-process")
	}
	defer relay.Close()

	registry := room.NewRegistry()
	events := broadcast.New(registry, relay)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	if err := events.Start(hubCtx); err != nil {
		logger.Errorf("event relay subscribe: %v", err)
		os.Exit(1)
	}

	opts := service.Options{ScopeSearch: cfg.SearchScopeReadable}
	if cfg.PushServiceURL != "" {
		opts.Push = push.NewClient(cfg.PushServiceURL, nil)
	}
	svc := service.New(store, registry, events, opts)

	hub := ws.NewHub(registry, svc, cfg.MaxWSConnections, ws.ClientConfig{
		SendBuffer:     cfg.WSSendBufferSize,
		WriteWait:      time.Duration(cfg.WSWriteTimeout) * time.Second,
		PongWait:       time.Duration(cfg.WSPongTimeout) * time.Second,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
	})
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	var auth func(http.Handler) http.Handler
	if cfg.AuthServiceURL != "" {
		auth = middleware.AuthServiceValidate(cfg.AuthServiceURL, nil)
	} else {
		logger.Warnf("AUTH_SERVICE_URL is empty: trusting X-User-Id header (development only)")
		auth = middleware.DevHeaderAuth(store)
	}

	r := handler.NewRouter(cfg, svc, hub, auth)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	events.Wait()
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "channelhub"
		password = "channelhub_secret"
		database = "channelhub"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
