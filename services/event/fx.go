package event

import (
	"context"

	"gps-campaign-dashboard/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("event.module",
	fx.Provide(
		provideBroadcaster,
		func(b *Broadcaster) Publisher { return b },
	),
	fx.Invoke(registerRelay),
)

func provideBroadcaster(lc fx.Lifecycle, cfg *config.Config) *Broadcaster {
	b := NewBroadcaster(cfg.Broadcast.BufferSize)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			b.Close()
			return nil
		},
	})
	return b
}

type relayParams struct {
	fx.In

	Lifecycle   fx.Lifecycle
	Broadcaster *Broadcaster
	Redis       *redis.Client `optional:"true"`
}

func registerRelay(p relayParams) {
	if p.Redis == nil {
		return
	}

	relay := NewRedisRelay(p.Redis, p.Broadcaster)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			relay.Start()
			return nil
		},
		OnStop: relay.Stop,
	})
}
