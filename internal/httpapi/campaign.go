package httpapi

import (
	"net/http"

	"gps-campaign-dashboard/pkg/db/pagination"
	"gps-campaign-dashboard/pkg/errutil"
	"gps-campaign-dashboard/services/campaign"

	"github.com/gin-gonic/gin"
)

func badRequest(c *gin.Context, err error) {
	_ = c.Error(errutil.BadRequest("malformed request", err))
}

func (h *handler) createCampaign(c *gin.Context) {
	var req campaign.CreateParams
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	created, err := h.campaigns.Create(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

type listQuery struct {
	Status string `form:"status"`
	pagination.Pagination
}

func (h *handler) listCampaigns(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	rows, page, err := h.campaigns.List(c.Request.Context(), campaign.ListFilter{
		Status:     campaign.Status(q.Status),
		Pagination: q.Pagination,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": rows, "page": page})
}

func (h *handler) activeCampaigns(c *gin.Context) {
	var q struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	rows, err := h.campaigns.ListActive(c.Request.Context(), q.Limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": rows})
}

func (h *handler) getCampaign(c *gin.Context) {
	got, err := h.campaigns.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, got)
}

func (h *handler) startCampaign(c *gin.Context) {
	id := c.Param("id")
	if err := h.campaigns.Start(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	h.respondCurrent(c, http.StatusAccepted, id)
}

func (h *handler) stopCampaign(c *gin.Context) {
	id := c.Param("id")
	if err := h.campaigns.Stop(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	h.respondCurrent(c, http.StatusOK, id)
}

func (h *handler) respondCurrent(c *gin.Context, code int, id string) {
	got, err := h.campaigns.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(code, got)
}

func (h *handler) deleteCampaign(c *gin.Context) {
	if err := h.campaigns.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) campaignLogs(c *gin.Context) {
	var q struct {
		Limit int    `form:"limit"`
		Level string `form:"level"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	logs, err := h.campaigns.Logs(c.Request.Context(), c.Param("id"), campaign.LogQuery{
		Limit: q.Limit,
		Level: campaign.LogLevel(q.Level),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
