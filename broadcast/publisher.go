package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Publisher is the pub/sub transport contract: deliver a serialized payload
// to a channel-scoped address. Delivery and ordering guarantees belong to the
// transport, not to this package.
type Publisher interface {
	Publish(ctx context.Context, address string, payload []byte) error
}

// RedisPublisher publishes over Redis PUB/SUB.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects a redis client from a redis:// URL and verifies
// connectivity with a ping.
func NewRedisPublisher(ctx context.Context, url string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisPublisher{client: client}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, address string, payload []byte) error {
	return p.client.Publish(ctx, address, payload).Err()
}

// Close releases the underlying redis connection pool.
func (p *RedisPublisher) Close() error { return p.client.Close() }

// LogPublisher is the fallback transport when no REDIS_URL is configured:
// broadcasts are visible in the logs but go nowhere.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, address string, payload []byte) error {
	slog.Debug("broadcast (no transport configured)", slog.String("address", address), slog.Int("bytes", len(payload)))
	return nil
}

// MemoryPublisher records published messages for tests.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []MemoryMessage
}

// MemoryMessage is one recorded publish.
type MemoryMessage struct {
	Address string
	Payload []byte
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(_ context.Context, address string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	p.messages = append(p.messages, MemoryMessage{Address: address, Payload: cp})
	return nil
}

// Messages returns a snapshot of everything published so far.
func (p *MemoryPublisher) Messages() []MemoryMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]MemoryMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Reset clears recorded messages.
func (p *MemoryPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}
