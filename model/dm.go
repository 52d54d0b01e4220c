package model

import "time"

// DMSession is the direct-message conversation between exactly two users.
// It is created lazily and is unique per unordered pair.
type DMSession struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserLow   int64     `gorm:"uniqueIndex:idx_dm_pair;not null" json:"user_low"`
	UserHigh  int64     `gorm:"uniqueIndex:idx_dm_pair;index:idx_dm_high;not null" json:"user_high"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (DMSession) TableName() string { return "dm_sessions" }

// Has reports whether userID participates in the session.
func (d *DMSession) Has(userID int64) bool {
	return d.UserLow == userID || d.UserHigh == userID
}

// Peer returns the participant that is not userID.
func (d *DMSession) Peer(userID int64) int64 {
	if d.UserLow == userID {
		return d.UserHigh
	}
	return d.UserLow
}
