package pipeline

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/velmie/consume/config"
	"github.com/velmie/consume/dedup"
	"github.com/velmie/consume/dedup/idempostore"
	"github.com/velmie/consume/dedup/memory"
	"github.com/velmie/consume/dedup/natskv"
	"github.com/velmie/consume/dedup/pgstore"
	"github.com/velmie/consume/dedup/redisstore"
)

// DefaultFactories returns the built-in backend factories keyed by config backend kind
func DefaultFactories() map[string]BackendFactory {
	return map[string]BackendFactory{
		config.BackendInProcess: InProcessBackend,
		config.BackendShared:    RedisBackend,
		config.BackendNATS:      NATSBackend,
		config.BackendPostgres:  PostgresBackend,
		config.BackendIdempo:    IdempoBackend,
	}
}

// InProcessBackend keeps markers in the memory of this instance only
func InProcessBackend(_ context.Context, env *Env) (dedup.Backend, error) {
	return memory.New(env.Config.Dedup.MessageExpiry()), nil
}

// RedisBackend shares markers through Redis; without WithRedis a client is built from config.Redis
func RedisBackend(ctx context.Context, env *Env) (dedup.Backend, error) {
	client := env.Redis
	if client == nil {
		c := redis.NewClient(&redis.Options{
			Addr:     env.Config.Redis.Addr,
			Password: env.Config.Redis.Password,
			DB:       env.Config.Redis.DB,
		})
		env.OnClose(c.Close)
		if err := c.Ping(ctx).Err(); err != nil {
			return nil, dedup.Unavailable("redis ping", err)
		}
		client = c
	}
	return redisstore.New(redisstore.Config{
		Client: client,
		Expiry: env.Config.Dedup.MessageExpiry(),
	})
}

// NATSBackend shares markers through a JetStream key-value bucket
func NATSBackend(_ context.Context, env *Env) (dedup.Backend, error) {
	js := env.JetStream
	if js == nil {
		nc, err := nats.Connect(env.Config.NATS.URL, nats.Name("consume-dedup"))
		if err != nil {
			return nil, dedup.Unavailable("nats connect", err)
		}
		env.OnClose(func() error {
			nc.Close()
			return nil
		})
		if js, err = nc.JetStream(); err != nil {
			return nil, err
		}
	}
	return natskv.New(natskv.Config{
		JetStream: js,
		Bucket:    env.Config.NATS.Bucket,
		Expiry:    env.Config.Dedup.MessageExpiry(),
	})
}

// PostgresBackend shares markers through an inbox table, created if missing
func PostgresBackend(ctx context.Context, env *Env) (dedup.Backend, error) {
	db := env.Postgres
	if db == nil {
		pool, err := pgxpool.New(ctx, env.Config.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		env.OnClose(func() error {
			pool.Close()
			return nil
		})
		db = pool
	}
	backend, err := pgstore.New(pgstore.Config{
		DB:     db,
		Table:  env.Config.Postgres.Table,
		Expiry: env.Config.Dedup.MessageExpiry(),
	})
	if err != nil {
		return nil, err
	}
	if err = backend.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return backend, nil
}

// IdempoBackend keeps markers in the idempo store passed with WithIdempoStore
func IdempoBackend(_ context.Context, env *Env) (dedup.Backend, error) {
	if env.Idempo == nil {
		return nil, errors.New("idempo store is required, use WithIdempoStore")
	}
	return idempostore.New(env.Idempo, env.Config.Dedup.MessageExpiry()), nil
}
