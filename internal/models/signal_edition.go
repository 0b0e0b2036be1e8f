package models

import "time"

// SignalEdition is an append-only record of an observed edit of a signal's
// source message. EditedAt comes from the source, not the local clock.
type SignalEdition struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SignalID  uint64    `gorm:"not null;index:idx_signal_editions_signal_edited,priority:1" json:"signal_id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	EditedAt  time.Time `gorm:"not null;index:idx_signal_editions_signal_edited,priority:2" json:"edited_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	Signal *Signal `gorm:"foreignKey:SignalID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (SignalEdition) TableName() string {
	return "signal_editions"
}
