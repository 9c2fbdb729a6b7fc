package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *handler) stats(c *gin.Context) {
	st, err := h.analytics.Stats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) charts(c *gin.Context) {
	charts, err := h.analytics.Charts(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, charts)
}
