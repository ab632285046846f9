package model

import "time"

// Reward ledger entry types for RewardEvent.Type.
const (
	RewardEventXP   = "xp"
	RewardEventGems = "gems"
	RewardEventGel  = "gel"
)

// RewardEvent is one append-only entry in the reward-history ledger.
// Quest settlement and lesson completion both write here.
type RewardEvent struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"index:idx_reward_user;not null" json:"user_id"`
	Type      string    `gorm:"size:16;not null" json:"type"`
	Amount    int       `gorm:"not null" json:"amount"`
	Reason    string    `gorm:"size:128" json:"reason"`
	LessonID  string    `gorm:"size:64" json:"lesson_id"`
	CreatedAt time.Time `gorm:"index;autoCreateTime" json:"created_at"`
}
