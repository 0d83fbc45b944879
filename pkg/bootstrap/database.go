package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/retry"
)

const pingTimeout = 2 * time.Second

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
	// PingPolicy bounds how long startup waits for Redis to come up.
	PingPolicy retry.Policy
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
		PingPolicy: retry.Policy{
			MaxAttempts:     5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
		},
	}
}

// InitRedis returns nil when Redis is not configured. Claims then stay in
// process and enrichment lookups are not cached.
func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	rc := dc.Config.Database.Redis
	if !rc.Enabled() {
		dc.Logger.Info("Redis not configured, using in-process claims and no enrichment cache")
		return nil, nil
	}

	addr := fmt.Sprintf("%s:%d", rc.Host, rc.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	err := retry.RetryWithCallback(ctx, dc.PingPolicy, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	}, func(attempt int, err error, next time.Duration) {
		dc.Logger.Warnw("Redis not reachable yet",
			"addr", addr,
			"attempt", attempt,
			"next_retry_in", next,
			"error", err,
		)
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", addr, err)
	}

	dc.Logger.Infow("Redis connected", "addr", addr, "db", rc.DB)
	return rdb, nil
}

func (dc *DatabaseConnector) ShutdownDatabases(rdb *redis.Client) []error {
	if rdb == nil {
		return nil
	}
	if err := rdb.Close(); err != nil {
		return []error{fmt.Errorf("redis close error: %w", err)}
	}
	return nil
}
