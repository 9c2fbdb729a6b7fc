package campaign

import (
	"context"

	"gps-campaign-dashboard/pkg/config"
	"gps-campaign-dashboard/services/event"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("campaign.module",
	fx.Provide(
		NewRepository,
		provideRunner,
		NewService,
	),
	fx.Invoke(
		migrate,
		registerShutdown,
	),
)

// RecoverOnStart fails campaigns a previous process left running. Only the
// process that owns the runs may include it; a second process sharing the
// database would fail live runs.
var RecoverOnStart = fx.Invoke(registerRecover)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models...)
}

func provideRunner(cfg *config.Config, repo Repository, pub event.Publisher) *Runner {
	pacing := PacingFromConfig(cfg)
	zap.L().Info("campaign runner configured",
		zap.String("pacing", pacing.Name()),
		zap.Duration("step_interval", cfg.Runner.StepInterval),
		zap.Duration("max_runtime", cfg.Runner.MaxRuntime))

	return NewRunner(repo, pub, RunnerConfig{
		Pacing:     pacing,
		MaxRuntime: cfg.Runner.MaxRuntime,
	})
}

func registerRecover(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, err := svc.Recover(ctx)
			return err
		},
	})
}

func registerShutdown(lc fx.Lifecycle, cfg *config.Config, runner *Runner) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, cfg.Runner.ShutdownTimeout)
			defer cancel()
			return runner.Shutdown(ctx)
		},
	})
}
