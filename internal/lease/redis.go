package lease

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "protohost:build-lease:"

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key's expiry only while it still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a Locker shared by several protohost instances.
// Leases expire after ttl so a crashed holder cannot block builds forever;
// a live holder renews its lease every ttl/3 until it is released.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// TryAcquire sets the lease key with NX and the configured TTL.
func (r *Redis) TryAcquire(ctx context.Context, id string) (Lease, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, keyPrefix+id, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", id, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	l := &redisLease{
		client: r.client,
		key:    keyPrefix + id,
		token:  token,
		ttl:    r.ttl,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.renew()
	return l, nil
}

// Held reports whether any instance holds the lease for id.
func (r *Redis) Held(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error { return r.client.Close() }

type redisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (l *redisLease) renew() {
	defer close(l.done)
	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil:
				slog.Warn("Failed to renew build lease", slog.String("key", l.key), slog.String("error", err.Error()))
			case n == 0:
				slog.Error("Build lease lost before release", slog.String("key", l.key))
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
