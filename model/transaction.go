package model

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentTransaction status values. A transaction is created pending and
// moves to exactly one terminal status.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
	TxCancelled = "cancelled"
	TxRefunded  = "refunded"
)

// Billing cycles accepted on transaction creation.
const (
	CycleMonthly   = "monthly"
	CycleQuarterly = "quarterly"
	CycleYearly    = "yearly"
	CycleLifetime  = "lifetime"
)

// PaymentTransaction is one subscription payment attempt.
// Amount is in minor currency units.
type PaymentTransaction struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID string         `gorm:"uniqueIndex;size:64;not null" json:"transaction_id"`
	UserID        int64          `gorm:"index:idx_tx_user;not null" json:"user_id"`
	PlanID        string         `gorm:"size:64;not null" json:"plan_id"`
	Status        string         `gorm:"size:16;default:pending;index" json:"status"`
	Amount        int64          `gorm:"not null" json:"amount"`
	Currency      string         `gorm:"size:8;default:EUR" json:"currency"`
	Provider      string         `gorm:"size:32" json:"provider"`
	BillingCycle  string         `gorm:"size:16;default:monthly" json:"billing_cycle"`
	Description   string         `gorm:"size:255" json:"description"`
	SessionID     string         `gorm:"index;size:128" json:"session_id"`
	ProviderData  datatypes.JSON `json:"provider_data"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	ProcessedAt   *time.Time     `json:"processed_at"`
}

// Terminal reports whether the transaction has left the pending state.
func (t *PaymentTransaction) Terminal() bool {
	return t.Status != TxPending
}
