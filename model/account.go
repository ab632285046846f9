package model

import "time"

// Subscription status values for Account.SubscriptionStatus.
const (
	SubscriptionNone     = "none"
	SubscriptionActive   = "active"
	SubscriptionExpired  = "expired"
	SubscriptionCanceled = "canceled"
)

// Account represents a learner account.
// XP only ever grows; Hearts is clamped to [0, max] by the reward service.
type Account struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	PasswordHash string     `gorm:"size:64;not null" json:"-"`
	Email        string     `gorm:"size:128" json:"email"`
	Status       int        `gorm:"default:1" json:"status"` // 0=banned 1=normal
	XP           int64      `gorm:"default:0" json:"xp"`
	Gems         int64      `gorm:"default:0" json:"gems"`
	Hearts       int        `gorm:"default:5" json:"hearts"`
	Streak       int        `gorm:"default:0" json:"streak"`

	SubscriptionStatus  string     `gorm:"size:16;default:none" json:"subscription_status"`
	SubscriptionPlanID  string     `gorm:"size:64" json:"subscription_plan_id"`
	SubscriptionStartAt *time.Time `json:"subscription_start_at"`
	SubscriptionEndAt   *time.Time `json:"subscription_end_at"`

	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `gorm:"size:45" json:"last_login_ip"`
}
