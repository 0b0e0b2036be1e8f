package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signalcollector/internal/service"
)

type StatsHandler struct {
	Stats *service.StatsService
}

func (h *StatsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/stats")
	g.GET("/channels", h.channels)
	g.GET("/symbols", h.symbols)
}

// @Summary Per-channel signal statistics
// @Tags stats
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/stats/channels [get]
func (h *StatsHandler) channels(c *gin.Context) {
	if h.Stats == nil {
		Error(c, http.StatusInternalServerError, "stats unavailable", nil)
		return
	}
	items, err := h.Stats.ChannelStats(c.Request.Context())
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

// @Summary Per-symbol signal statistics
// @Tags stats
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/stats/symbols [get]
func (h *StatsHandler) symbols(c *gin.Context) {
	if h.Stats == nil {
		Error(c, http.StatusInternalServerError, "stats unavailable", nil)
		return
	}
	items, err := h.Stats.SymbolStats(c.Request.Context())
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}
