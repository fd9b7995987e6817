package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisClientName tags connections opened by the sync engine unless the URI
// sets client_name itself.
const RedisClientName = "chat-sync"

var RedisClient *redis.Client

// RedisOptions parses redisURI and sizes the pool for the change feed. Each
// observer keeps a pub/sub connection open for its lifetime; change
// publishes and interest updates are short commands sharing the pool.
func RedisOptions(redisURI string) (*redis.Options, error) {
	opt, err := redis.ParseURL(redisURI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	if opt.ClientName == "" {
		opt.ClientName = RedisClientName
	}

	opt.PoolSize = 32
	opt.MinIdleConns = 2
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	// Publishes run under the caller's write deadline.
	opt.ContextTimeoutEnabled = true
	return opt, nil
}

// ConnectRedis connects the shared client used for change notifications.
func ConnectRedis(redisURI string) error {
	opt, err := RedisOptions(redisURI)
	if err != nil {
		return err
	}
	RedisClient = redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := RedisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", opt.Addr, err)
	}

	log.Info().Str("addr", opt.Addr).Int("db", opt.DB).Int("pool_size", opt.PoolSize).Msg("connected_redis")
	return nil
}

// DisconnectRedis closes the Redis connection
func DisconnectRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}
