package service

import (
	"context"

	"go.uber.org/zap"

	"signalcollector/internal/events"
	"signalcollector/internal/repository"
)

// Heartbeat logs store and event counters; it is run by the cron runner.
type Heartbeat struct {
	Repo   repository.Repository
	Hub    *events.Hub
	Flags  *SystemSettingsService
	Logger *zap.Logger
}

func (h *Heartbeat) Run(ctx context.Context) {
	if h == nil || h.Repo == nil || h.Logger == nil {
		return
	}
	if h.Flags != nil && !h.Flags.IsEnabled(ctx, FeatureHeartbeat, true) {
		return
	}
	counts, err := h.Repo.CountStore(ctx)
	if err != nil {
		h.Logger.Warn("heartbeat count failed", zap.Error(err))
		return
	}
	hub := h.Hub.Stats()
	h.Logger.Info("heartbeat",
		zap.Int64("channels", counts.Channels),
		zap.Int64("signals", counts.Signals),
		zap.Int64("deleted", counts.Deleted),
		zap.Int64("edited", counts.Edited),
		zap.Int64("editions", counts.Editions),
		zap.Int("subscribers", hub.Subscribers),
		zap.Uint64("events_published", hub.Published),
		zap.Uint64("events_dropped", hub.Dropped),
	)
}
