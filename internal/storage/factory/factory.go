// Package factory 根据配置打开对应的存储后端。
package factory

import (
	"fmt"

	"go.uber.org/zap"

	"mailsink/backend/internal/config"
	"mailsink/backend/internal/storage"
	"mailsink/backend/internal/storage/filesystem"
	"mailsink/backend/internal/storage/memory"
	"mailsink/backend/internal/storage/redis"
	"mailsink/backend/internal/storage/sql"
)

// Open 打开 cfg.Storage.Type 指定的存储
func Open(cfg *config.Config, log *zap.Logger) (storage.MailStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("storage")

	var (
		store storage.MailStore
		err   error
	)
	switch cfg.Storage.Type {
	case storage.TypeMemory:
		store = memory.NewStore()
	case storage.TypeFilesystem:
		store, err = filesystem.NewStore(cfg.Storage.Path)
	case storage.TypeRedis:
		store, err = redis.NewStore(&cfg.Redis, log)
	case storage.TypePostgres, storage.TypePgx, storage.TypeMySQL:
		store, err = sql.NewStore(
			cfg.Storage.Type,
			cfg.Storage.DSN,
			cfg.Storage.MaxOpenConns,
			cfg.Storage.MaxIdleConns,
			cfg.Storage.ConnMaxLifetime,
		)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Type, err)
	}

	log.Info("storage opened", zap.String("type", cfg.Storage.Type))
	return store, nil
}
