package events

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
)

// streamMaxLen caps the stream with approximate trimming.
const streamMaxLen = 100000

// RedisStreamSink appends events to a Redis stream with XADD.
// Each entry carries the event type and the JSON payload.
type RedisStreamSink struct {
	client goredis.UniversalClient
	stream string
}

// NewRedisStreamSink returns a sink writing to stream.
func NewRedisStreamSink(client goredis.UniversalClient, stream string) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream}
}

// Deliver appends evt to the stream.
func (s *RedisStreamSink) Deliver(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"type":    evt.Type,
			"tenant":  evt.TenantID,
			"payload": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	return nil
}
