package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Transport carries messages to consumers. Publish returns a transport-side
// identifier for the delivery; Confirmed reports whether a consumer has
// acknowledged the message identified by its UUID.
type Transport interface {
	Publish(ctx context.Context, channel, messageUUID, payload string) (string, error)
	Confirmed(ctx context.Context, messageUUID string) (bool, error)
	Close() error
}

// RedisTransport publishes messages onto per-channel Redis streams and
// checks consumer acknowledgments written under an ack key.
type RedisTransport struct {
	client    *redis.Client
	ackPrefix string
	timeout   time.Duration
}

// RedisOptions configures the Redis transport.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// AckPrefix namespaces the keys consumers write to acknowledge a
	// message, keyed by message UUID.
	AckPrefix string
	Timeout   time.Duration
}

// NewRedisTransport connects to Redis and verifies the connection.
func NewRedisTransport(ctx context.Context, opts RedisOptions) (*RedisTransport, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	ackPrefix := opts.AckPrefix
	if ackPrefix == "" {
		ackPrefix = "ack"
	}
	return &RedisTransport{client: client, ackPrefix: ackPrefix, timeout: timeout}, nil
}

// Publish appends the message to the channel's stream. The returned stream
// entry ID is stored as the transport identifier.
func (t *RedisTransport) Publish(ctx context.Context, channel, messageUUID, payload string) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	id, err := t.client.XAdd(opCtx, &redis.XAddArgs{
		Stream: channel,
		Values: map[string]any{
			"uuid":    messageUUID,
			"payload": payload,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", channel, err)
	}
	return id, nil
}

// Confirmed checks for the ack key a consumer writes after processing.
func (t *RedisTransport) Confirmed(ctx context.Context, messageUUID string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	count, err := t.client.Exists(opCtx, t.ackKey(messageUUID)).Result()
	if err != nil {
		return false, fmt.Errorf("check ack key: %w", err)
	}
	return count > 0, nil
}

// Close releases the underlying connection pool.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}

func (t *RedisTransport) ackKey(messageUUID string) string {
	return t.ackPrefix + ":" + messageUUID
}
