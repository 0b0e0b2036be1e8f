package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"signalcollector/internal/models"
)

// Repository is the single store used by the pipeline, the checker and the
// read API. Pipeline and checker write disjoint columns of a signal row.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Channel registry
	UpsertChannel(ctx context.Context, item ChannelUpsert) error
	GetChannel(ctx context.Context, id int64) (*models.Channel, error)

	// Ingestion
	InsertSignal(ctx context.Context, item *models.Signal) (created bool, err error)

	// Consistency checker
	ListDueSignals(ctx context.Context, params DueSignalsParams) ([]models.Signal, error)
	MarkSignalDeleted(ctx context.Context, id uint64, checkedAt time.Time) error
	MarkSignalChecked(ctx context.Context, id uint64, checkedAt time.Time) error
	ApplySignalEdit(ctx context.Context, id uint64, text string, editedAt, checkedAt time.Time) (appended bool, err error)

	// Read API
	GetSignal(ctx context.Context, id uint64) (*models.Signal, error)
	ListSignalEditions(ctx context.Context, signalID uint64) ([]models.SignalEdition, error)
	ListChannelsWithCounts(ctx context.Context) ([]ChannelCount, error)
	ListSymbolsWithCounts(ctx context.Context) ([]SymbolCount, error)
	ListSignals(ctx context.Context, params ListSignalsParams) ([]models.Signal, error)
	EachSignalFact(ctx context.Context, fn func(SignalFact) error) error
	CountStore(ctx context.Context) (StoreCounts, error)

	// System settings
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error)
}

// ChannelUpsert carries the channel metadata seen on an inbound message.
// Empty Title/Username never overwrite stored values and LastMessageID only
// moves forward.
type ChannelUpsert struct {
	ID            int64
	Title         string
	Username      string
	LastMessageID *int64
}

type DueSignalsParams struct {
	Now            time.Time
	RecentWindow   time.Duration
	RecentInterval time.Duration
	StaleInterval  time.Duration
	Limit          int
}

type ListSignalsParams struct {
	ChannelID      *int64
	Symbol         *string
	IncludeChannel bool
	Limit          int
	Offset         int
}

type ChannelCount struct {
	ID       int64   `json:"id"`
	Title    *string `json:"title"`
	Username *string `json:"username"`
	Total    int64   `json:"total"`
	Deleted  int64   `json:"deleted"`
	Edited   int64   `json:"edited"`
}

type SymbolCount struct {
	Symbol string `json:"symbol"`
	Total  int64  `json:"total"`
}

// SignalFact is the projection the statistics service aggregates over.
type SignalFact struct {
	ChannelID   int64
	Symbol      string
	Side        models.Side
	Leverage    *int
	MessageDate time.Time
	Deleted     bool
	Edited      bool
}

type StoreCounts struct {
	Channels int64 `json:"channels"`
	Signals  int64 `json:"signals"`
	Deleted  int64 `json:"deleted"`
	Edited   int64 `json:"edited"`
	Editions int64 `json:"editions"`
}
