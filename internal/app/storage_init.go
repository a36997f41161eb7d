package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/mongostore"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver и, при необходимости, Mongo для корзин.
// При ошибке уже открытые зависимости закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (_ *runtimeDependencies, err error) {
	deps := &runtimeDependencies{}
	defer func() {
		if err != nil {
			_ = deps.close(context.Background(), logger)
		}
	}()

	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		deps.cartRepo = memory.NewCartRepository()
		deps.orderRepo = memory.NewOrderRepository()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Warn("using in-memory storage, data is lost on restart")
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres storage requires a DSN")
		}
		store, openErr := postgres.Open(ctx, cfg.PostgresDSN)
		if openErr != nil {
			return nil, openErr
		}
		deps.addCloser("postgres", func(context.Context) error { return store.Close() })
		deps.addChecker("postgres", healthcheck.NewChecker("postgres", store.Ping))

		if cfg.PostgresAutoMigrate {
			if migrateErr := store.MigrateUp(ctx, 0); migrateErr != nil {
				return nil, fmt.Errorf("apply migrations: %w", migrateErr)
			}
			state, stateErr := store.MigrationStatus(ctx)
			if stateErr != nil {
				return nil, fmt.Errorf("read migration status: %w", stateErr)
			}
			logger.WithFields(log.Fields{
				"version": state.Current,
				"applied": state.Applied,
			}).Info("postgres schema is up to date")
		}

		deps.cartRepo = postgres.NewCartRepository(store)
		deps.orderRepo = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		logger.Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	switch cfg.CartStore {
	case "":
	case CartStoreMongo:
		if strings.TrimSpace(cfg.MongoURI) == "" {
			return nil, errors.New("mongo cart store requires a URI")
		}
		db, connectErr := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if connectErr != nil {
			return nil, connectErr
		}
		client := db.Client()
		deps.addCloser("mongo", client.Disconnect)
		deps.addChecker("mongo", healthcheck.NewChecker("mongo", func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		}))

		carts := mongostore.NewCartRepository(db)
		if indexErr := carts.CreateIndexes(ctx); indexErr != nil {
			return nil, fmt.Errorf("create mongo indexes: %w", indexErr)
		}
		deps.cartRepo = carts
		logger.WithField("database", cfg.MongoDatabase).Info("carts are served from mongodb")
	default:
		return nil, fmt.Errorf("unsupported cart store %q", cfg.CartStore)
	}

	return deps, nil
}
