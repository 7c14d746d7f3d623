// Package bootstrap builds the gate and its stores from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisad "unirate/internal/adapters/redis"
	"unirate/internal/adapters/supabase"
	"unirate/internal/app"
	"unirate/internal/domain"
	"unirate/internal/shared"
	"unirate/internal/storage/memory"
	mysqlrepo "unirate/internal/storage/mysql"
)

type remoteStore interface {
	domain.ViewRecordRepository
	domain.ProfileRepository
}

type Deps struct {
	Gate     *app.Gate
	Profiles *app.ProfileService

	closers []func() error
}

func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

func Open(ctx context.Context, cfg shared.Config) (*Deps, error) {
	d := &Deps{}

	var (
		rc     *redis.Client
		quotas domain.AnonQuotaStore
		sess   domain.SessionStore
		cache  domain.Cache
	)
	switch cfg.AnonStore {
	case "memory":
		m := memory.NewQuotaStore()
		quotas, sess = m, m
	case "redis":
		rc = redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		d.closers = append(d.closers, rc.Close)
		if err := rc.Ping(ctx).Err(); err != nil {
			// the gate fails open, so a cold redis is not fatal
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping failed")
		}
		quotas = redisad.NewQuotaStore(rc, 2*cfg.AnonPolicy.Window)
		sess = redisad.NewSessionStore(rc)
		cache = redisad.NewCache(rc)
	default:
		return nil, fmt.Errorf("unknown ANON_STORE %q", cfg.AnonStore)
	}

	var remote remoteStore
	switch cfg.RemoteBackend {
	case "memory":
		remote = memory.NewViewStore()
	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("sql.Open: %w", err)
		}
		d.closers = append(d.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			d.Close()
			return nil, fmt.Errorf("db.Ping: %w", err)
		}
		log.Info().Msg("database connection ok")
		remote = mysqlrepo.New(db)
	case "supabase":
		cl, err := supabase.New(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseRPS)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("supabase client: %w", err)
		}
		remote = cl
	default:
		d.Close()
		return nil, fmt.Errorf("unknown REMOTE_BACKEND %q", cfg.RemoteBackend)
	}

	d.Profiles = app.NewProfileService(remote, cache, cfg.ProfileCacheTTL)
	d.Gate = app.NewGate(quotas, sess, remote, d.Profiles, app.GateOptions{
		AnonPolicy: cfg.AnonPolicy,
		AuthPolicy: cfg.AuthPolicy,
	})
	return d, nil
}
