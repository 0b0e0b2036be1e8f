package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signalcollector/internal/cache"
	"signalcollector/internal/models"
	"signalcollector/internal/repository"
)

const (
	statsChannelsKey = "stats:channels"
	statsSymbolsKey  = "stats:symbols"
	statsPrecision   = 6
)

// Aggregate holds the per-group numbers shown by the statistics endpoints.
// Ratios and means are nil when the group has no data for them.
type Aggregate struct {
	Total       int64            `json:"total"`
	Long        int64            `json:"long_count"`
	Short       int64            `json:"short_count"`
	Deleted     int64            `json:"deleted_count"`
	Edited      int64            `json:"edited_count"`
	LongRatio   *decimal.Decimal `json:"long_total_ratio"`
	MeanLev     *decimal.Decimal `json:"mean_leverage"`
	MeanPerDay  *decimal.Decimal `json:"mean_per_day"`
	MeanPerWeek *decimal.Decimal `json:"mean_per_week"`
	FirstAt     *time.Time       `json:"first_signal_at"`
	LastAt      *time.Time       `json:"last_signal_at"`
}

type ChannelStats struct {
	ChannelID int64   `json:"channel_id"`
	Title     *string `json:"title"`
	Username  *string `json:"username"`
	Aggregate
}

type SymbolStats struct {
	Symbol string `json:"symbol"`
	Aggregate
}

// StatsService computes read-only aggregates over stored signals. Results
// are cached for TTL when Cache is set.
type StatsService struct {
	Repo   repository.Repository
	Cache  cache.Store
	TTL    time.Duration
	Logger *zap.Logger
}

func (s *StatsService) ChannelStats(ctx context.Context) ([]ChannelStats, error) {
	var cached []ChannelStats
	if s.cacheGet(ctx, statsChannelsKey, &cached) {
		return cached, nil
	}

	channels, err := s.Repo.ListChannelsWithCounts(ctx)
	if err != nil {
		return nil, err
	}
	byChannel := map[int64]*accumulator{}
	err = s.Repo.EachSignalFact(ctx, func(f repository.SignalFact) error {
		acc := byChannel[f.ChannelID]
		if acc == nil {
			acc = newAccumulator()
			byChannel[f.ChannelID] = acc
		}
		acc.add(f)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]ChannelStats, 0, len(channels))
	for _, ch := range channels {
		acc := byChannel[ch.ID]
		if acc == nil {
			acc = newAccumulator()
		}
		out = append(out, ChannelStats{
			ChannelID: ch.ID,
			Title:     ch.Title,
			Username:  ch.Username,
			Aggregate: acc.result(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	s.cacheSet(ctx, statsChannelsKey, out)
	return out, nil
}

func (s *StatsService) SymbolStats(ctx context.Context) ([]SymbolStats, error) {
	var cached []SymbolStats
	if s.cacheGet(ctx, statsSymbolsKey, &cached) {
		return cached, nil
	}

	bySymbol := map[string]*accumulator{}
	err := s.Repo.EachSignalFact(ctx, func(f repository.SignalFact) error {
		acc := bySymbol[f.Symbol]
		if acc == nil {
			acc = newAccumulator()
			bySymbol[f.Symbol] = acc
		}
		acc.add(f)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]SymbolStats, 0, len(bySymbol))
	for symbol, acc := range bySymbol {
		out = append(out, SymbolStats{Symbol: symbol, Aggregate: acc.result()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Symbol < out[j].Symbol
	})
	s.cacheSet(ctx, statsSymbolsKey, out)
	return out, nil
}

func (s *StatsService) cacheGet(ctx context.Context, key string, out any) bool {
	if s.Cache == nil || s.TTL <= 0 {
		return false
	}
	found, err := cache.GetJSON(ctx, s.Cache, key, out)
	if err != nil && s.Logger != nil {
		s.Logger.Warn("stats cache read failed", zap.String("key", key), zap.Error(err))
	}
	return found
}

func (s *StatsService) cacheSet(ctx context.Context, key string, v any) {
	if s.Cache == nil || s.TTL <= 0 {
		return
	}
	if err := cache.SetJSON(ctx, s.Cache, key, v, s.TTL); err != nil && s.Logger != nil {
		s.Logger.Warn("stats cache write failed", zap.String("key", key), zap.Error(err))
	}
}

type weekKey struct {
	year, week int
}

type accumulator struct {
	agg      Aggregate
	levSum   int64
	levCount int64
	first    time.Time
	last     time.Time
	weeks    map[weekKey]int64
}

func newAccumulator() *accumulator {
	return &accumulator{weeks: map[weekKey]int64{}}
}

func (a *accumulator) add(f repository.SignalFact) {
	a.agg.Total++
	switch f.Side {
	case models.SideLong:
		a.agg.Long++
	case models.SideShort:
		a.agg.Short++
	}
	if f.Deleted {
		a.agg.Deleted++
	}
	if f.Edited {
		a.agg.Edited++
	}
	if f.Leverage != nil {
		a.levSum += int64(*f.Leverage)
		a.levCount++
	}
	at := f.MessageDate.UTC()
	if a.first.IsZero() || at.Before(a.first) {
		a.first = at
	}
	if a.last.IsZero() || at.After(a.last) {
		a.last = at
	}
	y, w := at.ISOWeek()
	a.weeks[weekKey{y, w}]++
}

func (a *accumulator) result() Aggregate {
	out := a.agg
	if out.Total == 0 {
		return out
	}
	total := decimal.NewFromInt(out.Total)

	ratio := decimal.NewFromInt(out.Long).DivRound(total, statsPrecision)
	out.LongRatio = &ratio

	if a.levCount > 0 {
		mean := decimal.NewFromInt(a.levSum).DivRound(decimal.NewFromInt(a.levCount), statsPrecision)
		out.MeanLev = &mean
	}

	// Span-based daily rate; spans shorter than a day count as one day.
	spanDays := decimal.NewFromFloat(a.last.Sub(a.first).Seconds() / 86400)
	if spanDays.LessThan(decimal.NewFromInt(1)) {
		spanDays = decimal.NewFromInt(1)
	}
	perDay := total.DivRound(spanDays, statsPrecision)
	out.MeanPerDay = &perDay

	// Mean over the calendar weeks that have at least one signal.
	perWeek := total.DivRound(decimal.NewFromInt(int64(len(a.weeks))), statsPrecision)
	out.MeanPerWeek = &perWeek

	first, last := a.first, a.last
	out.FirstAt = &first
	out.LastAt = &last
	return out
}
