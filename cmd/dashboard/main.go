package main

import (
	"log"

	"go.uber.org/fx"

	"gps-campaign-dashboard/internal/httpapi"
	"gps-campaign-dashboard/pkg/config"
	"gps-campaign-dashboard/pkg/db"
	"gps-campaign-dashboard/pkg/gen"
	"gps-campaign-dashboard/pkg/health"
	"gps-campaign-dashboard/pkg/logger"
	"gps-campaign-dashboard/pkg/otelcol"
	"gps-campaign-dashboard/pkg/profiling"
	"gps-campaign-dashboard/pkg/redis"
	"gps-campaign-dashboard/pkg/server"
	"gps-campaign-dashboard/services/analytics"
	"gps-campaign-dashboard/services/campaign"
	"gps-campaign-dashboard/services/event"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		logger.FxLogger,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		health.Module,
		event.Module,
		campaign.Module,
		campaign.RecoverOnStart,
		analytics.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}
