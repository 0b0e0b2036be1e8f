package models

import "time"

// Channel is one monitored source. ID is the source-native channel id.
type Channel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Title         *string   `gorm:"type:text" json:"title"`
	Username      *string   `gorm:"type:text" json:"username"`
	Monitored     bool      `gorm:"not null;default:true" json:"monitored"`
	LastMessageID *int64    `json:"last_message_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Channel) TableName() string {
	return "channels"
}
