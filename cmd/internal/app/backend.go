package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairgate/cmd/internal/export"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
)

// exportBackend owns the durable export store and the clients behind it.
//
// Ownership model:
// - app owns pool and redis client lifecycle
// - PostgresStore.Close() and RedisStore.Close() are no-ops
type exportBackend struct {
	kind  string
	store export.Store
	pool  *pgxpool.Pool
	redis *redis.Client
}

// openExportBackend builds the backend selected by cfg.ExportBackend and
// wraps it in a SealedStore when an export key is configured.
func openExportBackend(ctx context.Context, cfg Config, log Logger) (*exportBackend, error) {
	b := &exportBackend{kind: cfg.ExportBackend}

	var err error
	switch cfg.ExportBackend {
	case BackendFile:
		var fs *export.FileStore
		if fs, err = export.NewFileStore(cfg.ExportDir); err == nil {
			b.store = fs
		}
	case BackendSQLite:
		var lite *export.SQLiteStore
		if lite, err = export.OpenSQLite(cfg.SQLitePath); err == nil {
			b.store = lite
		}
	case BackendPostgres:
		if b.pool, err = NewDBPool(ctx, cfg); err != nil {
			break
		}
		var pg *export.PostgresStore
		if pg, err = export.NewPostgresStore(b.pool, export.WithSchema(cfg.DBSchema)); err != nil {
			break
		}
		if err = pg.EnsureSchema(ctx); err == nil {
			b.store = pg
		}
	case BackendRedis:
		if b.redis, err = export.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
			break
		}
		var rs *export.RedisStore
		if rs, err = export.NewRedisStore(b.redis, cfg.RedisTTL); err == nil {
			b.store = rs
		}
	default:
		err = fmt.Errorf("unknown export backend %q", cfg.ExportBackend)
	}
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("export backend %s: %w", cfg.ExportBackend, err)
	}

	sealer, err := exportSealer()
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("export sealer: %w", err)
	}
	if sealer != nil {
		sealed, err := export.NewSealedStore(b.store, sealer)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.store = sealed
	}

	log.Info("export.backend.ready", "backend", b.kind, "sealed", sealer != nil)
	return b, nil
}

// Ready reports whether the backend's remote dependency answers.
func (b *exportBackend) Ready(ctx context.Context) error {
	switch {
	case b == nil:
		return errors.New("export backend not configured")
	case b.pool != nil:
		return PingDB(ctx, b.pool, 2*time.Second)
	case b.redis != nil:
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return b.redis.Ping(pingCtx).Err()
	default:
		return nil
	}
}

func (b *exportBackend) Close() error {
	if b == nil {
		return nil
	}
	var errs []error
	if b.store != nil {
		errs = append(errs, b.store.Close())
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.pool != nil {
		b.pool.Close()
	}
	return errors.Join(errs...)
}
