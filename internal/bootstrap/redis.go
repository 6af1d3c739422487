package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/scalehouse/auth-service/config"
)

// ConnectRedis builds a Redis client for the configured topology and verifies
// connectivity before handing it out.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	var client redis.UniversalClient
	switch {
	case cfg.UseCluster:
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.ClusterNodes,
			Password: cfg.Password,
		})
	case cfg.UseSentinel:
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.SentinelMasterName,
			SentinelAddrs:    cfg.SentinelNodes,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
		})
	default:
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.URI,
			Password: cfg.Password,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}
