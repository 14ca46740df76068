package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"chronicle/config"
	"chronicle/core"
	"chronicle/detect"
	"chronicle/storage"

	"go.uber.org/zap"
)

// StorageComponents holds all storage-related components.
type StorageComponents struct {
	SQLite        *storage.SQLite
	RuleStorage   *storage.SQLiteAlertRuleStorage
	Destinations  *storage.SQLiteDestinationStorage
	UserStorage   *storage.SQLiteUserStorage
	UserDirectory *storage.CachedUserDirectory
	Redis         *core.RedisCache
}

// Close releases the database and cache connections.
func (s *StorageComponents) Close(sugar *zap.SugaredLogger) {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			sugar.Errorw("Failed to close Redis connection", "error", err)
		}
	}
	if s.SQLite != nil {
		if err := s.SQLite.Close(); err != nil {
			sugar.Errorw("Failed to close SQLite", "error", err)
		}
	}
}

// InitSQLite initializes the SQLite rule store.
func InitSQLite(dirs DataDirectories, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(dirs.SQLite, sugar)
	if err != nil {
		errMsg := ClassifySQLiteError(err, dirs.SQLite)
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: SQLite Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	sugar.Info("SQLite initialized successfully")
	return sqlite, nil
}

// InitRedis connects the shared role cache. It returns nil when Redis is disabled.
// In graceful mode an unreachable server is logged and skipped.
func InitRedis(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*core.RedisCache, error) {
	if !cfg.Redis.Enabled {
		sugar.Info("Redis disabled, user roles are cached in-process only")
		return nil, nil
	}

	cache := core.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, sugar)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		_ = cache.Close()
		msg := ClassifyRedisError(err, cfg.Redis.Addr)
		if cfg.IsGracefulMode() {
			sugar.Warnw("Redis unavailable, continuing without shared cache", "details", msg)
			return nil, nil
		}
		fmt.Fprintf(os.Stderr, "\nFATAL: Redis Initialization Failed\n%s\n\n", msg)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	sugar.Infow("Redis cache connected", "addr", cfg.Redis.Addr)
	return cache, nil
}

// InitStorage opens the rule store and builds the cached user directory on top of it.
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	dirs := DataDirectoriesFromConfig(cfg)
	if err := EnsureDataDirectories(dirs, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	sqlite, err := InitSQLite(dirs, sugar)
	if err != nil {
		return nil, err
	}

	redisCache, err := InitRedis(ctx, cfg, sugar)
	if err != nil {
		_ = sqlite.Close()
		return nil, err
	}

	users := storage.NewSQLiteUserStorage(sqlite, sugar)
	components := &StorageComponents{
		SQLite:       sqlite,
		RuleStorage:  storage.NewSQLiteAlertRuleStorage(sqlite, sugar),
		Destinations: storage.NewSQLiteDestinationStorage(sqlite, sugar),
		UserStorage:  users,
		UserDirectory: storage.NewCachedUserDirectory(users, cfg.UserCache.Size, cfg.UserCache.TTL,
			redisCache, sugar),
		Redis: redisCache,
	}
	sugar.Info("Rule, destination and user storage initialized successfully")
	return components, nil
}

// ImportRulesFile seeds the store from the configured rules file, if any.
// In graceful mode a bad file is logged and skipped.
func ImportRulesFile(ctx context.Context, cfg *config.Config, rules *storage.SQLiteAlertRuleStorage, sugar *zap.SugaredLogger) error {
	path := cfg.DataPaths.RulesFile
	if path == "" {
		return nil
	}

	err := func() error {
		doc, err := detect.LoadRulesFile(path, sugar)
		if err != nil {
			return err
		}
		if err := rules.ImportRules(ctx, doc); err != nil {
			return err
		}
		sugar.Infow("Imported rules file", "path", path, "rules", len(doc.Rules), "destinations", len(doc.Destinations))
		return nil
	}()
	if err == nil {
		return nil
	}
	if cfg.IsGracefulMode() {
		sugar.Warnw("Failed to import rules file, continuing with stored rules", "path", path, "error", err)
		return nil
	}
	return fmt.Errorf("failed to import rules file %s: %w", path, err)
}
