/**
 * Redis progress publisher
 *
 * Mirrors run state into Redis for external dashboards:
 * - <queue>:processing   set of running run IDs
 * - <queue>:completed    set of finished run IDs
 * - <queue>:results      hash run ID -> final totals (JSON)
 * - <queue>:events       pub/sub channel carrying every Event as JSON
 */

package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/batch-ocr/internal/logging"
	"github.com/redis/go-redis/v9"
)

const publishTimeout = 5 * time.Second

// RedisPublisher publishes progress events over Redis
type RedisPublisher struct {
	client *redis.Client
	queue  string
	logger *logging.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(ctx context.Context, redisURL, queue string) (*RedisPublisher, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if queue == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisPublisherWithClient(client, queue), nil
}

// NewRedisPublisherWithClient wraps an existing client
func NewRedisPublisherWithClient(client *redis.Client, queue string) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		queue:  queue,
		logger: logging.NewLogger("progress"),
	}
}

// Channel returns the pub/sub channel events are published on
func (p *RedisPublisher) Channel() string {
	return p.key("events")
}

func (p *RedisPublisher) key(suffix string) string {
	return fmt.Sprintf("%s:%s", p.queue, suffix)
}

// Report publishes e. Failures are logged and never propagated.
func (p *RedisPublisher) Report(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Warn("failed to encode progress event", "event", string(e.Type), "error", err)
		return
	}

	pipe := p.client.TxPipeline()
	switch e.Type {
	case EventRunStarted:
		pipe.SAdd(ctx, p.key("processing"), e.RunID)
	case EventRunFinished:
		pipe.SRem(ctx, p.key("processing"), e.RunID)
		pipe.SAdd(ctx, p.key("completed"), e.RunID)
		pipe.HSet(ctx, p.key("results"), e.RunID, data)
	}
	pipe.Publish(ctx, p.Channel(), data)

	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Warn("failed to publish progress event",
			"event", string(e.Type),
			"run_id", e.RunID,
			"error", err)
	}
}

// Close releases the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
