package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/target/job-launcher/internal/bootstrap"
)

func connectDB(ctx context.Context, cc *commandContext) (*sql.DB, error) {
	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{DBConfig: cc.Config.Postgres, Logger: cc.Logger})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

func closeDB(cc *commandContext, db *sql.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		cc.Logger.Warn("db close failed", "error", err)
	}
}

// runtime is the full service graph, used by commands that create escrows.
type runtime struct {
	db       *sql.DB
	redis    redis.UniversalClient
	infra    *bootstrap.Infrastructure
	services bootstrap.ServiceContainer
}

func connectRuntime(ctx context.Context, cc *commandContext) (*runtime, error) {
	rt := &runtime{}
	var err error
	if rt.db, err = connectDB(ctx, cc); err != nil {
		return nil, err
	}

	dbCfg := bootstrap.DatabaseConfig{RedisConfig: cc.Config.Redis, Logger: cc.Logger}
	if rt.redis, err = bootstrap.ConnectRedis(ctx, dbCfg); err != nil {
		return nil, errors.Join(fmt.Errorf("connect redis: %w", err), rt.close())
	}

	rt.infra, err = bootstrap.BuildInfrastructure(ctx, bootstrap.InfrastructureDeps{
		Config:          &cc.Config,
		RedisClient:     rt.redis,
		Logger:          cc.Logger,
		SkipBucketCheck: true,
	})
	if err != nil {
		return nil, errors.Join(err, rt.close())
	}

	rt.services, err = bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config: &cc.Config,
		DB:     rt.db,
		Infra:  rt.infra,
		Logger: cc.Logger,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("wire services: %w", err), rt.close())
	}
	return rt, nil
}

func (rt *runtime) close() error {
	var closeErr error
	if rt.infra != nil {
		if err := rt.infra.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close infrastructure: %w", err))
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	return closeErr
}

// guardRemoteHost refuses ledger writes against non-local databases unless allowed.
func guardRemoteHost(cc *commandContext, allow bool, action string) error {
	host := cc.Config.Postgres.Host
	if !isLikelyRemoteHost(host) || allow {
		return nil
	}
	return fmt.Errorf(
		"refusing to %s on potentially remote database host %q; re-run with --allow-remote if this is intentional",
		action, host,
	)
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" || h == "localhost" || strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}
