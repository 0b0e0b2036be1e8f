package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"signalcollector/internal/config"
	"signalcollector/internal/events"
	"signalcollector/internal/models"
	"signalcollector/internal/repository"
	"signalcollector/internal/source"
)

const (
	minCheckerInterval     = 5 * time.Second
	defaultCheckerInterval = 30 * time.Minute
	defaultBatchLimit      = 2000
	defaultRecentWindow    = 7 * 24 * time.Hour
	defaultRecentInterval  = time.Hour
	defaultStaleInterval   = 72 * time.Hour
	defaultFetchTimeout    = 15 * time.Second
)

type CycleResult struct {
	Skipped    bool `json:"skipped"`
	Candidates int  `json:"candidates"`
	Channels   int  `json:"channels"`
	Checked    int  `json:"checked"`
	Deleted    int  `json:"deleted"`
	Edited     int  `json:"edited"`
	Failed     int  `json:"failed"`
}

type checkOutcome int

const (
	checkUnchanged checkOutcome = iota
	checkEdited
	checkDeleted
	checkFailed
)

// Checker periodically re-fetches stored signals and records edits and
// deletions. A signal's last_checked_time is only advanced together with
// the reconciliation it reflects.
type Checker struct {
	Repo    repository.Repository
	Fetcher source.Fetcher
	Config  config.CheckerConfig
	Flags   *SystemSettingsService
	Events  events.Publisher
	Logger  *zap.Logger

	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// Run executes a cycle immediately and then once per interval until ctx is
// cancelled. Cycle errors and panics are logged and never stop the loop.
func (c *Checker) Run(ctx context.Context) error {
	if c == nil || c.Repo == nil || c.Fetcher == nil {
		return nil
	}
	interval := c.Config.Interval
	if interval <= 0 {
		interval = defaultCheckerInterval
	}
	if interval < minCheckerInterval {
		interval = minCheckerInterval
	}
	log := c.logger()
	log.Info("checker started", zap.Duration("interval", interval))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("checker stopped")
			return ctx.Err()
		case <-timer.C:
		}
		c.runCycle(ctx)
		timer.Reset(interval)
	}
}

func (c *Checker) runCycle(ctx context.Context) {
	log := c.logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error("checker cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	started := time.Now()
	res, err := c.RunOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("checker cycle failed", zap.Error(err))
		return
	}
	if res.Skipped {
		log.Debug("checker cycle skipped: switched off")
		return
	}
	log.Info("checker cycle done",
		zap.Int("candidates", res.Candidates),
		zap.Int("channels", res.Channels),
		zap.Int("checked", res.Checked),
		zap.Int("deleted", res.Deleted),
		zap.Int("edited", res.Edited),
		zap.Int("failed", res.Failed),
		zap.Duration("took", time.Since(started)),
	)
}

// RunOnce selects the due signals and reconciles them channel by channel.
// When ctx is cancelled the remaining signals are left for a later cycle.
func (c *Checker) RunOnce(ctx context.Context) (CycleResult, error) {
	var res CycleResult
	if c == nil || c.Repo == nil || c.Fetcher == nil {
		return res, nil
	}
	if c.Flags != nil && !c.Flags.IsEnabled(ctx, FeatureChecker, true) {
		res.Skipped = true
		return res, nil
	}

	now := c.now()
	due, err := c.Repo.ListDueSignals(ctx, repository.DueSignalsParams{
		Now:            now,
		RecentWindow:   orDefault(c.Config.RecentWindow, defaultRecentWindow),
		RecentInterval: orDefault(c.Config.RecentInterval, defaultRecentInterval),
		StaleInterval:  orDefault(c.Config.StaleInterval, defaultStaleInterval),
		Limit:          c.batchLimit(),
	})
	if err != nil {
		return res, fmt.Errorf("list due signals: %w", err)
	}
	res.Candidates = len(due)

	for _, group := range groupByChannel(due) {
		res.Channels++
		for i := range group {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			switch c.checkSignal(ctx, &group[i]) {
			case checkEdited:
				res.Checked++
				res.Edited++
			case checkDeleted:
				res.Checked++
				res.Deleted++
			case checkFailed:
				res.Failed++
			default:
				res.Checked++
			}
		}
	}
	return res, nil
}

func (c *Checker) checkSignal(ctx context.Context, sig *models.Signal) checkOutcome {
	log := c.logger().With(
		zap.Uint64("signal_id", sig.ID),
		zap.Int64("channel_id", sig.ChannelID),
		zap.Int64("message_id", sig.MessageID),
	)

	fetchCtx, cancel := context.WithTimeout(ctx, orDefault(c.Config.FetchTimeout, defaultFetchTimeout))
	msg, err := c.Fetcher.Fetch(fetchCtx, sig.ChannelID, sig.MessageID)
	cancel()
	checkedAt := c.now()

	if err != nil {
		if !errors.Is(err, source.ErrNotFound) {
			log.Warn("signal fetch failed", zap.Error(err))
			return checkFailed
		}
		if err := c.Repo.MarkSignalDeleted(ctx, sig.ID, checkedAt); err != nil {
			log.Error("mark signal deleted failed", zap.Error(err))
			return checkFailed
		}
		log.Info("signal source deleted")
		c.publish(events.Event{Type: events.SignalDeleted, At: checkedAt}, sig)
		return checkDeleted
	}

	if msg != nil && msg.EditedAt != nil {
		text := strings.TrimSpace(msg.Text)
		if text != "" && text != strings.TrimSpace(sig.OriginalText) {
			editedAt := msg.EditedAt.UTC().Truncate(time.Microsecond)
			appended, err := c.Repo.ApplySignalEdit(ctx, sig.ID, text, editedAt, checkedAt)
			if err != nil {
				log.Error("apply signal edit failed", zap.Error(err))
				return checkFailed
			}
			if !appended {
				return checkUnchanged
			}
			log.Info("signal edition recorded", zap.Time("edited_at", editedAt))
			c.publish(events.Event{Type: events.SignalEdited, Text: text, At: checkedAt}, sig)
			return checkEdited
		}
	}

	if err := c.Repo.MarkSignalChecked(ctx, sig.ID, checkedAt); err != nil {
		log.Error("mark signal checked failed", zap.Error(err))
		return checkFailed
	}
	return checkUnchanged
}

func (c *Checker) publish(evt events.Event, sig *models.Signal) {
	if c.Events == nil {
		return
	}
	evt.SignalID = sig.ID
	evt.ChannelID = sig.ChannelID
	evt.MessageID = sig.MessageID
	evt.Symbol = sig.Symbol
	evt.Side = string(sig.Side)
	c.Events.Publish(evt)
}

// groupByChannel splits signals into per-channel runs, preserving order.
func groupByChannel(items []models.Signal) [][]models.Signal {
	var groups [][]models.Signal
	index := map[int64]int{}
	for _, item := range items {
		i, ok := index[item.ChannelID]
		if !ok {
			i = len(groups)
			index[item.ChannelID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}
	return groups
}

func (c *Checker) batchLimit() int {
	if c.Config.BatchLimit <= 0 {
		return defaultBatchLimit
	}
	return c.Config.BatchLimit
}

func (c *Checker) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Checker) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger.With(zap.String("component", "checker"))
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
