package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over Redis Streams. Each topic is split
// across shardCount independent streams; a message's shard is
// hash(group) % shardCount, and each shard is drained by exactly one
// goroutine processing its stream's messages strictly in delivery
// order. That is how FIFO-per-group survives a sharded, redelivery-
// capable bus without a distributed lock: two messages in the same
// group always hash to the same shard and are therefore always read
// by the same single-threaded consumer, in the order XADD committed
// them.
type RedisBus struct {
	client      *redis.Client
	consumerGrp string
	shardCount  int
	claimEvery  time.Duration
	logger      *slog.Logger

	handlers map[string]Handler
}

// NewRedisBus builds a RedisBus. shardCount controls the fan-out of
// concurrent consumers per topic; it must stay fixed for the lifetime
// of a deployment since it determines which stream a group's messages
// land on.
func NewRedisBus(client *redis.Client, shardCount int, logger *slog.Logger) *RedisBus {
	if shardCount <= 0 {
		shardCount = 4
	}
	return &RedisBus{
		client:      client,
		consumerGrp: "workers",
		shardCount:  shardCount,
		claimEvery:  30 * time.Second,
		logger:      logger,
		handlers:    make(map[string]Handler),
	}
}

func (b *RedisBus) Subscribe(topic string, handler Handler) {
	b.handlers[topic] = handler
}

func (b *RedisBus) streamKey(topic string, shard int) string {
	return fmt.Sprintf("bus:%s:%d", topic, shard)
}

func (b *RedisBus) shardFor(group string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(group))
	return int(h.Sum32()) % b.shardCount
}

func (b *RedisBus) Emit(ctx context.Context, topic, group string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: marshal payload for topic %s: %w", topic, err)
	}

	shard := b.shardFor(group)
	stream := b.streamKey(topic, shard)

	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"payload": raw, "group": group},
	}).Err()
}

// Start launches shardCount consumer goroutines per registered topic
// plus a periodic XAUTOCLAIM sweep per stream, and blocks until ctx is
// canceled. Call it once after all Subscribe calls have been made.
func (b *RedisBus) Start(ctx context.Context) error {
	for topic, handler := range b.handlers {
		for shard := 0; shard < b.shardCount; shard++ {
			stream := b.streamKey(topic, shard)
			if err := b.client.XGroupCreateMkStream(ctx, stream, b.consumerGrp, "0").Err(); err != nil {
				if !strings.Contains(err.Error(), "BUSYGROUP") {
					return fmt.Errorf("bus: create group for %s: %w", stream, err)
				}
			}

			consumer := fmt.Sprintf("shard-%d", shard)
			go b.consumeLoop(ctx, stream, consumer, handler)
			go b.claimLoop(ctx, stream, consumer, handler)
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

func (b *RedisBus) consumeLoop(ctx context.Context, stream, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.consumerGrp,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    1,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			if b.logger != nil {
				b.logger.Error("bus: read group failed", "stream", stream, "error", err)
			}
			time.Sleep(time.Second)
			continue
		}

		for _, str := range res {
			for _, msg := range str.Messages {
				b.handle(ctx, stream, msg, handler)
			}
		}
	}
}

func (b *RedisBus) handle(ctx context.Context, stream string, msg redis.XMessage, handler Handler) {
	payload, _ := msg.Values["payload"].(string)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return handler(ctx, []byte(payload))
	}()

	if err != nil {
		// Leave unacknowledged; XAUTOCLAIM redelivers it to this or
		// another consumer on the same shard after the claim window.
		if b.logger != nil {
			b.logger.Error("bus: handler failed, leaving unacked", "stream", stream, "id", msg.ID, "error", err)
		}
		return
	}

	if err := b.client.XAck(ctx, stream, b.consumerGrp, msg.ID).Err(); err != nil && b.logger != nil {
		b.logger.Error("bus: ack failed", "stream", stream, "id", msg.ID, "error", err)
	}
}

func (b *RedisBus) claimLoop(ctx context.Context, stream, consumer string, handler Handler) {
	ticker := time.NewTicker(b.claimEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var cursor string = "0"
		for {
			msgs, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   stream,
				Group:    b.consumerGrp,
				Consumer: consumer,
				MinIdle:  b.claimEvery,
				Start:    cursor,
				Count:    10,
			}).Result()
			if err != nil {
				if b.logger != nil {
					b.logger.Error("bus: autoclaim failed", "stream", stream, "error", err)
				}
				break
			}
			for _, msg := range msgs {
				b.handle(ctx, stream, msg, handler)
			}
			if next == "" || next == "0" {
				break
			}
			cursor = next
		}
	}
}
