package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/redis"
)

const (
	defaultRelayChannel    = "evrent:realtime"
	relayPublishMaxElapsed = 2 * time.Second
	relayResubscribeDelay  = time.Second
)

// RedisRelay publishes messages to a redis channel so every API instance's hub
// receives them. Run feeds the local hub from the same channel.
type RedisRelay struct {
	client  redis.PubSub
	channel string
	local   Sink
	logg    *logger.Logger
}

// NewRedisRelay builds a relay over client that feeds local.
func NewRedisRelay(client redis.PubSub, channel string, local Sink, logg *logger.Logger) (*RedisRelay, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if local == nil {
		return nil, errors.New("local sink is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if channel == "" {
		channel = defaultRelayChannel
	}
	return &RedisRelay{client: client, channel: channel, local: local, logg: logg}, nil
}

func (r *RedisRelay) Name() string { return "redis" }

// Deliver publishes msg with a short exponential retry.
func (r *RedisRelay) Deliver(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = relayPublishMaxElapsed

	return backoff.Retry(func() error {
		return r.client.Publish(ctx, r.channel, raw)
	}, backoff.WithContext(policy, ctx))
}

// Run subscribes to the relay channel until ctx is done, resubscribing after
// connection loss.
func (r *RedisRelay) Run(ctx context.Context) error {
	for {
		if err := r.consume(ctx); err != nil && ctx.Err() == nil {
			r.logg.Error(r.logg.WithField(ctx, "channel", r.channel), "realtime relay subscription lost", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(relayResubscribeDelay):
		}
	}
}

func (r *RedisRelay) consume(ctx context.Context) error {
	sub, err := r.client.Subscribe(ctx, r.channel)
	if err != nil {
		return err
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "realtime relay dropped malformed message")
				continue
			}
			if err := r.local.Deliver(ctx, msg); err != nil {
				r.logg.Error(ctx, "realtime relay local delivery failed", err)
			}
		}
	}
}
