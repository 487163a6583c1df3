package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	goredis "github.com/go-redis/redis/v8"

	"trademind/internal/model"
)

// Channel is the shared Pub/Sub channel carrying live candle updates.
const Channel = "live_candles"

// Redis bridges the broadcast stream over Redis Pub/Sub so multiple
// processes share one logical stream.
type Redis struct {
	rdb     *goredis.Client
	channel string
	log     *slog.Logger
}

// NewRedis creates a Redis-backed broker publishing on Channel.
func NewRedis(rdb *goredis.Client, log *slog.Logger) *Redis {
	return &Redis{rdb: rdb, channel: Channel, log: log}
}

// Publish JSON-encodes msg onto the shared channel.
func (r *Redis) Publish(ctx context.Context, msg model.StreamMessage) error {
	if err := r.rdb.Publish(ctx, r.channel, msg.JSON()).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.channel, err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription and decodes incoming payloads onto
// the returned channel. The initial handshake is confirmed before returning
// so an unreachable store surfaces here rather than as a silent hang.
func (r *Redis) Subscribe(ctx context.Context) (model.Subscription, error) {
	ps := r.rdb.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	sub := &redisSub{
		ps:  ps,
		ch:  make(chan model.StreamMessage, DefaultSubscriberBuffer),
		log: r.log,
	}
	go sub.run()
	return sub, nil
}

// Close is a no-op: the underlying client is shared and owned by the caller.
func (r *Redis) Close() error { return nil }

type redisSub struct {
	ps   *goredis.PubSub
	ch   chan model.StreamMessage
	log  *slog.Logger
	once sync.Once
}

func (s *redisSub) C() <-chan model.StreamMessage { return s.ch }

func (s *redisSub) Close() {
	s.once.Do(func() {
		_ = s.ps.Close() // run drains and closes s.ch
	})
}

func (s *redisSub) run() {
	defer close(s.ch)
	for raw := range s.ps.Channel() {
		var msg model.StreamMessage
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			s.log.Warn("broker: dropping malformed payload", "channel", raw.Channel, "err", err)
			continue
		}
		select {
		case s.ch <- msg:
		default:
			// slow consumer: drop rather than stall the decode loop
		}
	}
}
