package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/docmesh/docmesh-backend/internal/pkg/logger"
	"github.com/docmesh/docmesh-backend/internal/realtime"
)

type redisBus struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

func NewRedisBus(log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	prefix := strings.TrimSpace(os.Getenv("REDIS_CHANNEL_PREFIX"))
	if prefix == "" {
		prefix = "task-events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:    log.With("service", "RedisTaskBus"),
		rdb:    rdb,
		prefix: prefix,
	}, nil
}

// Publish routes the event onto its creator's channel. Invalid events are
// rejected here rather than discovered by every subscriber.
func (b *redisBus) Publish(ctx context.Context, msg realtime.TaskEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis task bus not initialized")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, realtime.TaskChannel(b.prefix, msg.Channel), raw).Err()
}

// StartForwarder consumes every creator's channel via a pattern subscribe.
func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m realtime.TaskEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis task bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.PSubscribe(ctx, realtime.TaskChannelPattern(b.prefix))
	return b.forward(ctx, sub, onMsg)
}

// StartCreatorForwarder consumes a single creator's channel, the shape a
// per-account notification adapter wants.
func (b *redisBus) StartCreatorForwarder(ctx context.Context, creatorID string, onMsg func(m realtime.TaskEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis task bus not initialized")
	}
	if strings.TrimSpace(creatorID) == "" {
		return fmt.Errorf("creator id required")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, realtime.TaskChannel(b.prefix, creatorID))
	return b.forward(ctx, sub, onMsg)
}

func (b *redisBus) forward(ctx context.Context, sub *goredis.PubSub, onMsg func(m realtime.TaskEvent)) error {
	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var msg realtime.TaskEvent
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warn("bad task event payload", "channel", m.Channel, "error", err)
					continue
				}
				if err := msg.Validate(); err != nil {
					b.log.Warn("dropping invalid task event", "channel", m.Channel, "error", err)
					continue
				}
				onMsg(msg)
			}
		}
	}()

	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
