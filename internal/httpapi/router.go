package httpapi

import (
	"context"
	"net/http"

	"gps-campaign-dashboard/pkg/config"
	"gps-campaign-dashboard/pkg/db/pagination"
	"gps-campaign-dashboard/pkg/health"
	"gps-campaign-dashboard/pkg/middleware"
	"gps-campaign-dashboard/services/analytics"
	"gps-campaign-dashboard/services/campaign"
	"gps-campaign-dashboard/services/event"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		func(s *campaign.Service) CampaignService { return s },
		func(s *analytics.Service) AnalyticsService { return s },
		NewRouter,
	),
)

type CampaignService interface {
	Create(ctx context.Context, p campaign.CreateParams) (*campaign.Campaign, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*campaign.Campaign, error)
	ListActive(ctx context.Context, limit int) ([]campaign.Campaign, error)
	List(ctx context.Context, f campaign.ListFilter) ([]campaign.Campaign, pagination.PageInfo, error)
	Logs(ctx context.Context, id string, q campaign.LogQuery) ([]campaign.LogEntry, error)
}

type AnalyticsService interface {
	Stats(ctx context.Context) (*analytics.Stats, error)
	Charts(ctx context.Context) (*analytics.Charts, error)
}

type Params struct {
	fx.In

	Config      *config.Config
	Campaigns   CampaignService
	Analytics   AnalyticsService
	Broadcaster *event.Broadcaster
	Health      health.HealthService
}

type handler struct {
	campaigns   CampaignService
	analytics   AnalyticsService
	broadcaster *event.Broadcaster
}

// NewRouter builds the JSON and event-stream API.
func NewRouter(p Params) http.Handler {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.AccessLog("/healthz", "/readyz", "/metrics"), middleware.Error())

	h := &handler{
		campaigns:   p.Campaigns,
		analytics:   p.Analytics,
		broadcaster: p.Broadcaster,
	}

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/dashboard/stats", h.stats)
	api.GET("/dashboard/charts", h.charts)

	api.GET("/campaigns", h.listCampaigns)
	api.POST("/campaigns", h.createCampaign)
	api.GET("/campaigns/active", h.activeCampaigns)
	api.GET("/campaigns/:id", h.getCampaign)
	api.POST("/campaigns/:id/start", h.startCampaign)
	api.POST("/campaigns/:id/stop", h.stopCampaign)
	api.DELETE("/campaigns/:id", h.deleteCampaign)
	api.GET("/campaigns/:id/logs", h.campaignLogs)

	api.GET("/events", h.events)

	return r
}
