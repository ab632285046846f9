package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lingoleap/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound is returned when the user ID resolves to no account.
	ErrUserNotFound = errors.New("billing: user not found")
	// ErrTransactionNotFound is returned when no transaction matches the
	// given transaction or session reference.
	ErrTransactionNotFound = errors.New("billing: transaction not found")
	// ErrAlreadyProcessed is returned when a terminal transaction is asked
	// to transition to a different terminal status.
	ErrAlreadyProcessed = errors.New("billing: transaction already processed")
	// ErrInvalidStatus is returned for an unknown target status.
	ErrInvalidStatus = errors.New("billing: invalid target status")
)

// stalePendingAge is how long a pending transaction may linger before the
// maintenance sweep cancels it.
const stalePendingAge = 24 * time.Hour

// Service owns the subscription payment-transaction state machine:
// pending → completed | failed | cancelled | refunded, one-way.
type Service struct {
	db     *gorm.DB
	window time.Duration
	logger *zap.Logger
}

// NewService creates a billing Service. window is the pending-transaction
// de-duplication window (<= 0 falls back to 30 minutes).
func NewService(db *gorm.DB, window time.Duration, logger *zap.Logger) *Service {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Service{db: db, window: window, logger: logger}
}

// CreateInput describes a checkout initiation.
type CreateInput struct {
	UserID       int64
	PlanID       string
	Amount       int64
	Currency     string
	Provider     string
	BillingCycle string
	Description  string
	SessionID    string
}

// CreateTransaction creates a pending transaction, or returns the existing
// one when a pending transaction for the same (user, plan) is younger than
// the de-duplication window. The bool result reports reuse.
func (svc *Service) CreateTransaction(ctx context.Context, in CreateInput) (*model.PaymentTransaction, bool, error) {
	var acc model.Account
	if err := svc.db.WithContext(ctx).First(&acc, in.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrUserNotFound
		}
		return nil, false, err
	}

	cutoff := time.Now().Add(-svc.window)
	var existing model.PaymentTransaction
	err := svc.db.WithContext(ctx).
		Where("user_id = ? AND plan_id = ? AND status = ? AND created_at > ?",
			in.UserID, in.PlanID, model.TxPending, cutoff).
		Order("created_at DESC").
		First(&existing).Error
	if err == nil {
		return &existing, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	cycle := in.BillingCycle
	switch cycle {
	case model.CycleMonthly, model.CycleQuarterly, model.CycleYearly, model.CycleLifetime:
	default:
		cycle = model.CycleMonthly
	}
	currency := in.Currency
	if currency == "" {
		currency = "EUR"
	}

	tx := &model.PaymentTransaction{
		TransactionID: "txn_" + uuid.NewString(),
		UserID:        in.UserID,
		PlanID:        in.PlanID,
		Status:        model.TxPending,
		Amount:        in.Amount,
		Currency:      currency,
		Provider:      in.Provider,
		BillingCycle:  cycle,
		Description:   in.Description,
		SessionID:     in.SessionID,
	}
	if err := svc.db.WithContext(ctx).Create(tx).Error; err != nil {
		return nil, false, err
	}
	svc.logger.Info("transaction created",
		zap.Int64("user_id", in.UserID),
		zap.String("transaction_id", tx.TransactionID),
		zap.String("plan_id", in.PlanID))
	return tx, false, nil
}

// ValidTargetStatus reports whether status is a terminal status a pending
// transaction may transition to.
func ValidTargetStatus(status string) bool {
	switch status {
	case model.TxCompleted, model.TxFailed, model.TxCancelled, model.TxRefunded:
		return true
	}
	return false
}

// UpdateTransaction transitions the transaction referenced by transaction ID
// or session ID to a terminal status. Completing a transaction activates the
// user's subscription in the same DB transaction. Repeating an update with
// the status the transaction already holds is a no-op; conflicting terminal
// statuses are rejected.
func (svc *Service) UpdateTransaction(ctx context.Context, ref, status string, providerData map[string]interface{}) (*model.PaymentTransaction, error) {
	if !ValidTargetStatus(status) {
		return nil, ErrInvalidStatus
	}

	var result *model.PaymentTransaction
	err := svc.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		var tx model.PaymentTransaction
		err := dbtx.Where("transaction_id = ? OR session_id = ?", ref, ref).
			First(&tx).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransactionNotFound
			}
			return err
		}
		if tx.Terminal() {
			if tx.Status == status {
				result = &tx
				return nil
			}
			return ErrAlreadyProcessed
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":       status,
			"processed_at": now,
		}
		if providerData != nil {
			merged := mergeProviderData(tx.ProviderData, providerData)
			dataJSON, err := json.Marshal(merged)
			if err != nil {
				return err
			}
			updates["provider_data"] = datatypes.JSON(dataJSON)
		}
		if err := dbtx.Model(&tx).Updates(updates).Error; err != nil {
			return err
		}

		if status == model.TxCompleted {
			if err := svc.activateSubscription(dbtx, &tx, now); err != nil {
				return err
			}
		}

		if err := dbtx.Where("id = ?", tx.ID).First(&tx).Error; err != nil {
			return err
		}
		result = &tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	svc.logger.Info("transaction updated",
		zap.String("transaction_id", result.TransactionID),
		zap.String("status", result.Status))
	return result, nil
}

func mergeProviderData(existing datatypes.JSON, extra map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	if len(existing) > 0 {
		_ = json.Unmarshal(existing, &merged)
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func (svc *Service) activateSubscription(dbtx *gorm.DB, tx *model.PaymentTransaction, now time.Time) error {
	end := SubscriptionEnd(now, tx.BillingCycle)
	return dbtx.Model(&model.Account{}).
		Where("id = ?", tx.UserID).
		Updates(map[string]interface{}{
			"subscription_status":   model.SubscriptionActive,
			"subscription_plan_id":  tx.PlanID,
			"subscription_start_at": now,
			"subscription_end_at":   end,
		}).Error
}

// SubscriptionEnd computes the subscription end date for a billing cycle.
// Unrecognized cycles fall back to monthly.
func SubscriptionEnd(start time.Time, cycle string) time.Time {
	switch cycle {
	case model.CycleQuarterly:
		return start.AddDate(0, 3, 0)
	case model.CycleYearly:
		return start.AddDate(1, 0, 0)
	case model.CycleLifetime:
		return start.AddDate(100, 0, 0)
	case model.CycleMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 1, 0)
	}
}

// GetTransaction looks up a transaction by transaction ID or session ID.
func (svc *Service) GetTransaction(ctx context.Context, ref string) (*model.PaymentTransaction, error) {
	var tx model.PaymentTransaction
	err := svc.db.WithContext(ctx).
		Where("transaction_id = ? OR session_id = ?", ref, ref).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// ListTransactions returns one page of the user's transaction history,
// newest first, with the total row count for the filter.
func (svc *Service) ListTransactions(ctx context.Context, userID int64, status string, limit, page int) ([]model.PaymentTransaction, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if page < 1 {
		page = 1
	}

	q := svc.db.WithContext(ctx).
		Model(&model.PaymentTransaction{}).
		Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var txs []model.PaymentTransaction
	err := q.Order("created_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&txs).Error
	return txs, total, err
}

// ExpireStalePending cancels pending transactions older than a day. Wired to
// the scheduler; the checkout flow never revives a cancelled transaction.
func (svc *Service) ExpireStalePending(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-stalePendingAge)
	res := svc.db.WithContext(ctx).
		Model(&model.PaymentTransaction{}).
		Where("status = ? AND created_at < ?", model.TxPending, cutoff).
		Updates(map[string]interface{}{
			"status":       model.TxCancelled,
			"processed_at": time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		svc.logger.Info("stale pending transactions cancelled",
			zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
