package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect parses a redis:// URL, opens a client and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.DialTimeout = 5 * time.Second
	c := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return c, nil
}

// Lease is a best-effort single-holder lock with an expiry, used to make sure
// only one replica runs a periodic job per interval.
type Lease struct {
	client redis.Cmdable
	owner  string
}

func NewLease(client redis.Cmdable, owner string) *Lease {
	return &Lease{client: client, owner: owner}
}

// TryAcquire takes key for ttl if nobody holds it.
func (l *Lease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, "lease:"+key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	return ok, nil
}
