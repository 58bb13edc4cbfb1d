package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientOptions selects between a single node and a cluster deployment.
type ClientOptions struct {
	Addrs       []string
	Password    string
	ClusterMode bool
	MaxRetries  int
	PoolSize    int
}

// NewUniversalClient builds the client shared by the lock service and the
// availability cache.
func NewUniversalClient(opts ClientOptions) redis.UniversalClient {
	if opts.ClusterMode {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:          opts.Addrs,
			Password:       opts.Password,
			MaxRetries:     opts.MaxRetries,
			PoolSize:       opts.PoolSize,
			MinIdleConns:   5,
			PoolTimeout:    30 * time.Second,
			MaxRedirects:   8,
			RouteByLatency: true,
		})
	}

	addr := "localhost:6379"
	if len(opts.Addrs) > 0 {
		addr = opts.Addrs[0]
	}
	return redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   opts.Password,
		DB:         0, // not supported in cluster mode
		MaxRetries: opts.MaxRetries,
		PoolSize:   opts.PoolSize,
	})
}

// Ping checks if Redis is available
func Ping(ctx context.Context, client redis.UniversalClient) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
