package httpapi

import (
	"net/http"
	"slices"
	"time"

	"gps-campaign-dashboard/services/campaign"
	"gps-campaign-dashboard/services/event"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	historySize       = 50
	keepAliveInterval = 15 * time.Second
)

// events streams broadcaster events as Server-Sent Events. With campaign_id
// set, the stream opens with the campaign's recent log history.
func (h *handler) events(c *gin.Context) {
	ctx := c.Request.Context()
	campaignID := c.Query("campaign_id")

	opts := []event.SubscribeOption{}
	if campaignID != "" {
		opts = append(opts, event.WithCampaign(campaignID))
	}

	// Subscribed before the history read so no event falls between the two.
	sub := h.broadcaster.Subscribe(opts...)
	defer sub.Close()

	var history []campaign.LogEntry
	if campaignID != "" {
		logs, err := h.campaigns.Logs(ctx, campaignID, campaign.LogQuery{Limit: historySize})
		if err != nil {
			_ = c.Error(err)
			return
		}
		history = logs
		slices.Reverse(history)
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent("connected", gin.H{"subscription_id": sub.ID(), "campaign_id": campaignID})
	if campaignID != "" {
		c.SSEvent("history", gin.H{"campaign_id": campaignID, "logs": history})
	}
	c.Writer.Flush()

	log := zap.L().With(zap.String("subscription_id", sub.ID()))
	log.Debug("event stream opened", zap.String("campaign_id", campaignID))

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("event stream closed", zap.Uint64("dropped", sub.Dropped()))
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			c.SSEvent(string(e.Kind), e)
			c.Writer.Flush()
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"time": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}
