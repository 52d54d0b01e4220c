package model

import "time"

// Message is a chat message addressed to exactly one of a channel or a DM session.
// The JSON form is the wire shape used by every realtime event.
type Message struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Timestamp time.Time `gorm:"index:idx_message_ts;not null" json:"timestamp"`
	SenderID  int64     `gorm:"index:idx_message_sender;not null" json:"sender_id"`
	ChannelID *int64    `gorm:"index:idx_message_channel" json:"channel_id"`
	DMID      *int64    `gorm:"column:dm_id;index:idx_message_dm" json:"dm_id"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}
