package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"signalcollector/internal/service"
)

type SettingsHandler struct {
	Settings *service.SystemSettingsService
}

func (h *SettingsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/settings")
	g.GET("", h.list)
	g.PUT("/:key", h.put)
}

type putSwitchRequest struct {
	Enabled *bool `json:"enabled"`
}

// @Summary List feature switches
// @Tags settings
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/settings [get]
func (h *SettingsHandler) list(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	items, err := h.Settings.ListSwitches(c.Request.Context())
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

// @Summary Toggle a feature switch
// @Tags settings
// @Accept json
// @Produce json
// @Param key path string true "switch key"
// @Param body body putSwitchRequest true "payload"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/settings/{key} [put]
func (h *SettingsHandler) put(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	var req putSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		Error(c, http.StatusBadRequest, "body must be {\"enabled\": bool}", nil)
		return
	}
	ctx := c.Request.Context()
	err := h.Settings.SetEnabled(ctx, key, *req.Enabled)
	if errors.Is(err, service.ErrUnknownSwitch) {
		Error(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, service.Switch{Key: key, Enabled: h.Settings.IsEnabled(ctx, key, *req.Enabled)}, nil)
}
