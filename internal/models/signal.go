package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Signal is a trading signal extracted from a single source message.
// (ChannelID, MessageID) is unique; after creation only the checker flags
// and LastCheckedTime change.
type Signal struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ChannelID   int64     `gorm:"not null;uniqueIndex:idx_signals_channel_message,priority:1" json:"channel_id"`
	MessageID   int64     `gorm:"not null;uniqueIndex:idx_signals_channel_message,priority:2" json:"message_id"`
	MessageDate time.Time `gorm:"not null;index" json:"message_date"`

	Symbol      string                              `gorm:"type:varchar(32);not null;index" json:"symbol"`
	Side        Side                                `gorm:"type:varchar(8);not null" json:"side"`
	Leverage    *int                                `json:"leverage"`
	StopLoss    datatypes.JSONSlice[decimal.Decimal] `json:"stop_loss"`
	TakeProfits datatypes.JSONSlice[decimal.Decimal] `gorm:"not null" json:"take_profits"`

	OriginalText    string     `gorm:"type:text;not null" json:"original_text"`
	Deleted         bool       `gorm:"not null;default:false;index" json:"deleted"`
	Edited          bool       `gorm:"not null;default:false" json:"edited"`
	LastCheckedTime *time.Time `gorm:"index" json:"last_checked_time"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`

	Channel *Channel `gorm:"foreignKey:ChannelID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"channel,omitempty"`
}

func (Signal) TableName() string {
	return "signals"
}
