package event

import (
	"context"
	"encoding/json"
	"time"

	"gps-campaign-dashboard/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher is the subset of *redis.Client the relay needs.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisRelay mirrors broadcaster events onto Redis pub/sub so observers in
// other processes can follow campaigns.
type RedisRelay struct {
	client  RedisPublisher
	b       *Broadcaster
	sub     *Subscription
	timeout time.Duration
	done    chan struct{}
}

func NewRedisRelay(client RedisPublisher, b *Broadcaster) *RedisRelay {
	return &RedisRelay{
		client:  client,
		b:       b,
		timeout: 2 * time.Second,
		done:    make(chan struct{}),
	}
}

func (r *RedisRelay) Start() {
	r.sub = r.b.Subscribe(WithBuffer(1024))
	go r.loop()
}

func (r *RedisRelay) loop() {
	defer close(r.done)
	for e := range r.sub.Events() {
		r.forward(e)
	}
}

func (r *RedisRelay) forward(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		zap.L().Error("failed to encode event for relay", zap.String("campaign_id", e.CampaignID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	for _, channel := range []string{rediskey.CampaignEventsChannel(), rediskey.CampaignChannel(e.CampaignID)} {
		if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
			zap.L().Warn("failed to relay event",
				zap.String("channel", channel),
				zap.String("campaign_id", e.CampaignID),
				zap.Error(err))
		}
	}
}

// Stop detaches from the broadcaster and waits for in-flight forwards.
func (r *RedisRelay) Stop(ctx context.Context) error {
	if r.sub == nil {
		return nil
	}
	r.sub.Close()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
