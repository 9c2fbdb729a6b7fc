package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"gps-campaign-dashboard/pkg/config"
	"gps-campaign-dashboard/pkg/db"
	"gps-campaign-dashboard/pkg/gen"
	"gps-campaign-dashboard/pkg/logger"
	"gps-campaign-dashboard/services/campaign"
	"gps-campaign-dashboard/services/event"
)

type options struct {
	count int
	start int
}

func main() {
	var o options
	flag.IntVar(&o.count, "count", 20, "number of campaigns to create")
	flag.IntVar(&o.start, "start", 0, "number of the created campaigns to start")
	flag.Parse()

	opts := []fx.Option{
		config.Module,
		logger.Module,
		logger.FxLogger,
		db.Module,
		gen.Module,
		event.Module,
		campaign.Module,
		fx.Supply(o),
		fx.Invoke(seed),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	<-app.Wait()
	if err := app.Stop(context.Background()); err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
}

func seed(lc fx.Lifecycle, sd fx.Shutdowner, svc *campaign.Service, o options) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				code := 0
				if err := createCampaigns(context.Background(), svc, o); err != nil {
					zap.L().Error("seeding failed", zap.Error(err))
					code = 1
				}
				_ = sd.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
	})
}

func createCampaigns(ctx context.Context, svc *campaign.Service, o options) error {
	var started []string
	for i := range o.count {
		name := fmt.Sprintf("Seed campaign %03d", i+1)
		mode := string(campaign.AccountModes[rand.IntN(len(campaign.AccountModes))])
		hours := campaign.MinDurationHours + rand.IntN(campaign.MaxDurationHours)
		var device *string
		if i%2 == 0 {
			d := fmt.Sprintf("device-%04d", rand.IntN(10000))
			device = &d
		}

		c, err := svc.Create(ctx, campaign.CreateParams{
			Name:          name,
			DeviceID:      device,
			AccountMode:   mode,
			DurationHours: &hours,
		})
		if err != nil {
			return err
		}
		zap.L().Info("campaign seeded", zap.String("campaign_id", c.ID), zap.String("name", c.Name))

		if i < o.start {
			if err := svc.Start(ctx, c.ID); err != nil {
				return err
			}
			started = append(started, c.ID)
		}
	}
	return awaitRuns(ctx, svc, started)
}

// awaitRuns blocks until every started campaign reaches a terminal status,
// since stopping the app would interrupt them.
func awaitRuns(ctx context.Context, svc *campaign.Service, ids []string) error {
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for len(ids) > 0 {
		<-t.C
		pending := ids[:0]
		for _, id := range ids {
			c, err := svc.Get(ctx, id)
			if err != nil {
				return err
			}
			if !c.Status.Terminal() {
				pending = append(pending, id)
				continue
			}
			zap.L().Info("campaign finished", zap.String("campaign_id", id), zap.String("status", string(c.Status)))
		}
		ids = pending
	}
	return nil
}
