package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Clark-Hu/stars/internal/ledger"
	"github.com/Clark-Hu/stars/internal/logger"
)

// DefaultChannel is used when no Redis channel is configured.
const DefaultChannel = "stars.events"

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	rdb     goredis.UniversalClient
	channel string
	logger  *logger.Logger
}

// NewRedisPublisher wraps rdb. The caller owns the client.
func NewRedisPublisher(rdb goredis.UniversalClient, channel string, log *logger.Logger) (*RedisPublisher, error) {
	if rdb == nil {
		return nil, errors.New("redis client required")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisPublisher{
		rdb:     rdb,
		channel: channel,
		logger:  log.With("service", "RedisEventBus"),
	}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, ev ledger.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, raw).Err()
}

// Forward subscribes to the channel and calls onEvent for every decodable
// message until ctx ends.
func (p *RedisPublisher) Forward(ctx context.Context, onEvent func(ledger.Event)) error {
	if onEvent == nil {
		return errors.New("onEvent callback required")
	}
	sub := p.rdb.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev ledger.Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					p.logger.Warn("bad redis event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}
