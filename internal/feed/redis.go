// Package feed streams appended access-log entries to room administrators
// as they happen. Entries travel over Redis pub/sub so every replica sees
// every append, then out to WebSocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "dataroom:access:"

// Channel is the pub/sub channel carrying a room's entries.
func Channel(roomID uuid.UUID) string {
	return channelPrefix + roomID.String()
}

// Subscriber delivers a room's entries until ctx ends, then closes the
// returned channel.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID uuid.UUID) (<-chan models.AccessLog, error)
}

// Bus publishes and subscribes over Redis.
type Bus struct {
	client *redis.Client
	logger *zap.Logger
}

func NewBus(client *redis.Client, logger *zap.Logger) *Bus {
	return &Bus{client: client, logger: logger}
}

// Publish sends entry to its room's channel. Delivery is best-effort: the
// access log in Postgres is the record, the feed is a view of it.
func (b *Bus) Publish(ctx context.Context, entry models.AccessLog) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode access log: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(entry.DataRoomID), payload).Err(); err != nil {
		return fmt.Errorf("publish access log: %w", err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, roomID uuid.UUID) (<-chan models.AccessLog, error) {
	sub := b.client.Subscribe(ctx, Channel(roomID))
	// Receive blocks until the subscription is confirmed, so a broken
	// connection surfaces here instead of as a silent, empty feed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(roomID), err)
	}

	out := make(chan models.AccessLog, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				entry, err := decode(msg.Payload)
				if err != nil {
					b.logger.Warn("dropping malformed feed message", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- entry:
				default:
					// Slow subscriber; drop rather than stall the Redis reader.
				}
			}
		}
	}()
	return out, nil
}

func decode(payload string) (models.AccessLog, error) {
	var entry models.AccessLog
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return entry, fmt.Errorf("decode access log: %w", err)
	}
	return entry, nil
}
