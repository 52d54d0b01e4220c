package model

import "time"

// RelationStatus is the status carried by a relationship row.
type RelationStatus string

const (
	RelationPending  RelationStatus = "pending"
	RelationAccepted RelationStatus = "accepted"
	RelationRejected RelationStatus = "rejected"
)

// Relationship is the single row kept per unordered pair of users.
// UserLow < UserHigh always holds. RequesterID is the user the pending
// request or the block originates from.
//
//	pending           one edge   requester -> other
//	accepted          two edges  low <-> high
//	rejected+blocked  one edge   requester -> other
type Relationship struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserLow     int64          `gorm:"uniqueIndex:idx_relationship_pair;not null" json:"user_low"`
	UserHigh    int64          `gorm:"uniqueIndex:idx_relationship_pair;index:idx_relationship_high;not null" json:"user_high"`
	RequesterID int64          `gorm:"not null" json:"requester_id"`
	Status      RelationStatus `gorm:"size:16;not null" json:"status"`
	Blocked     bool           `gorm:"not null" json:"blocked"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// CanonicalPair orders two user ids so that low < high.
func CanonicalPair(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// Other returns the member of the pair that is not id.
func (r *Relationship) Other(id int64) int64 {
	if r.UserLow == id {
		return r.UserHigh
	}
	return r.UserLow
}

// Involves reports whether id is one of the two members.
func (r *Relationship) Involves(id int64) bool {
	return r.UserLow == id || r.UserHigh == id
}
