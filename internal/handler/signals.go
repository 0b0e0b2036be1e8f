package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"signalcollector/internal/repository"
)

// SignalsHandler serves read-only projections of channels and stored signals.
type SignalsHandler struct {
	Repo repository.Repository
}

func (h *SignalsHandler) Register(r *gin.Engine) {
	g := r.Group("/api")
	g.GET("/channels", h.listChannels)
	g.GET("/channels/:id/signals", h.listChannelSignals)
	g.GET("/symbols", h.listSymbols)
	g.GET("/symbols/:symbol/signals", h.listSymbolSignals)
	g.GET("/signals/:id", h.getSignal)
	g.GET("/signals/:id/editions", h.listEditions)
}

// @Summary List channels with signal counts
// @Tags signals
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/channels [get]
func (h *SignalsHandler) listChannels(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListChannelsWithCounts(c.Request.Context())
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

// @Summary List signals of a channel
// @Tags signals
// @Produce json
// @Param id path int true "channel id"
// @Param limit query int false "1..500, default 100"
// @Param offset query int false "offset"
// @Success 200 {object} map[string]any
// @Router /api/channels/{id}/signals [get]
func (h *SignalsHandler) listChannelSignals(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := int64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid channel id", nil)
		return
	}
	limit, offset, ok := pageQuery(c)
	if !ok {
		return
	}
	items, err := h.Repo.ListSignals(c.Request.Context(), repository.ListSignalsParams{
		ChannelID: &id,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, pageMeta(limit, offset, len(items)))
}

// @Summary List symbols with signal counts
// @Tags signals
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/symbols [get]
func (h *SignalsHandler) listSymbols(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListSymbolsWithCounts(c.Request.Context())
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

// @Summary List signals of a symbol across channels
// @Tags signals
// @Produce json
// @Param symbol path string true "symbol"
// @Param limit query int false "1..500, default 100"
// @Param offset query int false "offset"
// @Success 200 {object} map[string]any
// @Router /api/symbols/{symbol}/signals [get]
func (h *SignalsHandler) listSymbolSignals(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	symbol := strings.TrimSpace(c.Param("symbol"))
	if symbol == "" {
		Error(c, http.StatusBadRequest, "symbol required", nil)
		return
	}
	limit, offset, ok := pageQuery(c)
	if !ok {
		return
	}
	items, err := h.Repo.ListSignals(c.Request.Context(), repository.ListSignalsParams{
		Symbol:         &symbol,
		IncludeChannel: true,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, pageMeta(limit, offset, len(items)))
}

// @Summary Get a signal
// @Tags signals
// @Produce json
// @Param id path int true "signal id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/signals/{id} [get]
func (h *SignalsHandler) getSignal(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid signal id", nil)
		return
	}
	item, err := h.Repo.GetSignal(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "signal not found", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary List recorded editions of a signal
// @Tags signals
// @Produce json
// @Param id path int true "signal id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/signals/{id}/editions [get]
func (h *SignalsHandler) listEditions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid signal id", nil)
		return
	}
	ctx := c.Request.Context()
	sig, err := h.Repo.GetSignal(ctx, id)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if sig == nil {
		Error(c, http.StatusNotFound, "signal not found", nil)
		return
	}
	items, err := h.Repo.ListSignalEditions(ctx, id)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}
