package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/velmie/stagedpush"
	"github.com/velmie/stagedpush/internal/config"
	"github.com/velmie/stagedpush/lmstfy"
	"github.com/velmie/stagedpush/mysql"
	"github.com/velmie/stagedpush/postgres"
	"github.com/velmie/stagedpush/rabbitmq"
	"github.com/velmie/stagedpush/redis"
	"github.com/velmie/stagedpush/zaplog"
)

const sentryFlushTimeout = 2 * time.Second

// staging is the configured staging table behind one connection pool.
type staging struct {
	claimer stagedpush.Claimer
	stats   stagedpush.StatsProvider
	stage   func(ctx context.Context, payload stagedpush.Payload) (int64, error)
	exec    func(ctx context.Context, statement string) error
	schema  string
	close   func()
}

func openStaging(ctx context.Context, cfg *config.Config) (*staging, error) {
	switch cfg.Store.Driver {
	case config.DriverMySQL:
		dsn, err := mysqlDSN(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		store, err := mysql.NewStore(db, mysql.WithTable(cfg.Store.Table))
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		schema, err := mysql.Schema(store.Table())
		if err != nil {
			_ = db.Close()
			return nil, err
		}

		return &staging{
			claimer: store,
			stats:   store,
			stage: func(ctx context.Context, payload stagedpush.Payload) (int64, error) {
				return store.Stage(ctx, db, payload)
			},
			exec: func(ctx context.Context, statement string) error {
				_, err := db.ExecContext(ctx, statement)
				return err
			},
			schema: schema,
			close:  func() { _ = db.Close() },
		}, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		store, err := postgres.NewStore(pool, postgres.WithTable(cfg.Store.Table))
		if err != nil {
			pool.Close()
			return nil, err
		}
		schema, err := postgres.Schema(store.Table())
		if err != nil {
			pool.Close()
			return nil, err
		}

		return &staging{
			claimer: store,
			stats:   store,
			stage: func(ctx context.Context, payload stagedpush.Payload) (int64, error) {
				return store.Stage(ctx, pool, payload)
			},
			exec: func(ctx context.Context, statement string) error {
				_, err := pool.Exec(ctx, statement)
				return err
			},
			schema: schema,
			close:  pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// mysqlDSN turns on parseTime, which the store needs to scan created_at.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true

	return cfg.FormatDSN(), nil
}

func newRedisClient(ctx context.Context, cfg *config.Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// newForwarder returns the configured forwarder and a function releasing its
// connections.
func newForwarder(cfg *config.Config, client *goredis.Client) (stagedpush.Forwarder, func(), error) {
	fc := cfg.Forwarder
	switch fc.Kind {
	case config.ForwarderRedis:
		return redis.NewForwarder(client, redis.WithNamespace(fc.Namespace)), func() {}, nil

	case config.ForwarderLmstfy:
		lc := fc.Lmstfy
		opts := []lmstfy.Option{lmstfy.WithQueuePrefix(lc.QueuePrefix), lmstfy.WithTTL(lc.TTL)}
		if lc.Tries > 0 {
			opts = append(opts, lmstfy.WithTries(lc.Tries))
		}

		return lmstfy.NewClientForwarder(lc.Host, lc.Port, lc.Namespace, lc.Token, opts...), func() {}, nil

	case config.ForwarderRabbitMQ:
		rc := fc.RabbitMQ
		conn, err := amqp.Dial(rc.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
		}
		forwarder, err := rabbitmq.NewForwarder(ch,
			rabbitmq.WithExchange(rc.Exchange),
			rabbitmq.WithRoutingKeyPrefix(rc.RoutingKeyPrefix),
		)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}

		return forwarder, func() { _ = conn.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported forwarder %q", fc.Kind)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, *zaplog.Logger, error) {
	logger, err := zaplog.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, nil, err
	}

	return logger, zaplog.Wrap(logger), nil
}

// initSentry enables error reporting when a DSN is configured. The returned
// function flushes pending events.
func initSentry(cfg *config.Config, logger *zap.Logger) (bool, func()) {
	if cfg.Sentry.DSN == "" {
		return false, func() {}
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		AttachStacktrace: true,
		Release:          cfg.Sentry.Release,
		Environment:      cfg.Sentry.Environment,
		SampleRate:       1,
	})
	if err != nil {
		logger.Error("Sentry init error", zap.Error(err))
		return false, func() {}
	}

	return true, func() { sentry.Flush(sentryFlushTimeout) }
}
