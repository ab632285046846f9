package billing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lingoleap/server/model"
	"github.com/lingoleap/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger, _ := zap.NewDevelopment()
	return NewService(db, 30*time.Minute, logger), db
}

func seedAccount(t *testing.T, db *gorm.DB) *model.Account {
	t.Helper()
	acc := &model.Account{Username: "learner-" + t.Name(), PasswordHash: "x", Status: 1, Hearts: 5}
	require.NoError(t, db.Create(acc).Error)
	return acc
}

func premiumCheckout(userID int64) CreateInput {
	return CreateInput{
		UserID:       userID,
		PlanID:       "premium-monthly",
		Amount:       999,
		Currency:     "EUR",
		Provider:     "stripe",
		BillingCycle: model.CycleMonthly,
		SessionID:    "cs_test_abc",
	}
}

func TestCreateTransaction_UserNotFound(t *testing.T) {
	svc, _ := setupService(t)
	_, _, err := svc.CreateTransaction(context.Background(), premiumCheckout(999))
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateTransaction_New(t *testing.T) {
	svc, _ := setupService(t)
	acc := seedAccount(t, svc.db)

	tx, existing, err := svc.CreateTransaction(context.Background(), premiumCheckout(acc.ID))
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, model.TxPending, tx.Status)
	assert.Contains(t, tx.TransactionID, "txn_")
	assert.Equal(t, model.CycleMonthly, tx.BillingCycle)
}

func TestCreateTransaction_DedupWindow(t *testing.T) {
	svc, db := setupService(t)
	acc := seedAccount(t, db)
	ctx := context.Background()

	first, _, err := svc.CreateTransaction(ctx, premiumCheckout(acc.ID))
	require.NoError(t, err)

	// Same user and plan inside the window reuses the pending transaction.
	second, existing, err := svc.CreateTransaction(ctx, premiumCheckout(acc.ID))
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	// A different plan always creates a new one.
	other := premiumCheckout(acc.ID)
	other.PlanID = "premium-yearly"
	third, existing, err := svc.CreateTransaction(ctx, other)
	require.NoError(t, err)
	assert.False(t, existing)
	assert.NotEqual(t, first.TransactionID, third.TransactionID)

	// Outside the window the pending transaction stops matching.
	stale := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(&model.PaymentTransaction{}).
		Where("transaction_id = ?", first.TransactionID).
		Update("created_at", stale).Error)
	fourth, existing, err := svc.CreateTransaction(ctx, premiumCheckout(acc.ID))
	require.NoError(t, err)
	assert.False(t, existing)
	assert.NotEqual(t, first.TransactionID, fourth.TransactionID)
}

func TestCreateTransaction_Defaults(t *testing.T) {
	svc, db := setupService(t)
	acc := seedAccount(t, db)

	tx, _, err := svc.CreateTransaction(context.Background(), CreateInput{
		UserID:       acc.ID,
		PlanID:       "premium-monthly",
		Amount:       999,
		BillingCycle: "fortnightly",
	})
	require.NoError(t, err)
	assert.Equal(t, model.CycleMonthly, tx.BillingCycle)
	assert.Equal(t, "EUR", tx.Currency)
}

func TestUpdateTransaction_CompletesAndActivates(t *testing.T) {
	svc, db := setupService(t)
	acc := seedAccount(t, db)
	ctx := context.Background()

	created, _, err := svc.CreateTransaction(ctx, premiumCheckout(acc.ID))
	require.NoError(t, err)

	before := time.Now()
	updated, err := svc.UpdateTransaction(ctx, created.TransactionID, model.TxCompleted,
		map[string]interface{}{"payment_intent": "pi_123"})
	require.NoError(t, err)
	assert.Equal(t, model.TxCompleted, updated.Status)
	assert.NotNil(t, updated.ProcessedAt)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(updated.ProviderData, &data))
	assert.Equal(t, "pi_123", data["payment_intent"])

	var got model.Account
	require.NoError(t, db.First(&got, acc.ID).Error)
	assert.Equal(t, model.SubscriptionActive, got.SubscriptionStatus)
	assert.Equal(t, "premium-monthly", got.SubscriptionPlanID)
	require.NotNil(t, got.SubscriptionEndAt)
	wantEnd := got.SubscriptionStartAt.AddDate(0, 1, 0)
	assert.WithinDuration(t, wantEnd, *got.SubscriptionEndAt, time.Second)
	assert.True(t, got.SubscriptionStartAt.After(before.Add(-time.Second)))
}

func TestUpdateTransaction_BySessionID(t *testing.T) {
	svc, db := setupService(t)
	acc := seedAccount(t, db)
	ctx := context.Background()

	created, _, err := svc.CreateTransaction(ctx, premiumCheckout(acc.ID))
	require.NoError(t, err)

	updated, err := svc.UpdateTransaction(ctx, "cs_test_abc", model.TxFailed, nil)
	require.NoError(t, err)
	assert.Equal(t, created.TransactionID, updated.TransactionID)
	assert.Equal(t, model.TxFailed, updated.Status)

	// A failed transaction never touches the subscription.
	var got model.Account
	require.NoError(t, db.First(&got, acc.ID).Error)
	assert.Equal(t, model.SubscriptionNone, got.SubscriptionStatus)
}

func TestUpdateTransaction_TerminalIsOneWay(t *testing.T) {
	svc, db := setupService(t)
	acc := seedAccount(t, db)
	ctx := context.Background()

	created, _, err := svc.CreateTransaction(ctx, premiumCheckout(acc.ID))
	require.NoError(t, err)

	_, err = svc.UpdateTransaction(ctx, created.TransactionID, model.TxCompleted, nil)
	require.NoError(t, err)

	// Re-delivery of the same status is an idempotent no-op.
	again, err := svc.UpdateTransaction(ctx, created.TransactionID, model.TxCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TxCompleted, again.Status)

	// A conflicting terminal status is rejected.
	_, err = svc.UpdateTransaction(ctx, created.TransactionID, model.TxFailed, nil)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestUpdateTransaction_Invalid(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.UpdateTransaction(ctx, "txn_x", "settling", nil)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.UpdateTransaction(ctx, "txn_missing", model.TxCompleted, nil)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestValidTargetStatus(t *testing.T) {
	for _, s := range []string{model.TxCompleted, model.TxFailed, model.TxCancelled, model.TxRefunded} {
		assert.True(t, ValidTargetStatus(s), s)
	}
	assert.False(t, ValidTargetStatus(model.TxPending))
	assert.False(t, ValidTargetStatus("settling"))
	assert.False(t, ValidTargetStatus(""))
}

func TestSubscriptionEnd(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		cycle string
		want  time.Time
	}{
		{model.CycleMonthly, start.AddDate(0, 1, 0)},
		{model.CycleQuarterly, start.AddDate(0, 3, 0)},
		{model.CycleYearly, start.AddDate(1, 0, 0)},
		{model.CycleLifetime, start.AddDate(100, 0, 0)},
		{"fortnightly", start.AddDate(0, 1, 0)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SubscriptionEnd(start, tc.cycle), tc.cycle)
	}
}

func TestListTransactions(t *testing.T) {
	svc, db := setupService(t)
	acc := seedAccount(t, db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		in := premiumCheckout(acc.ID)
		in.PlanID = "plan-" + string(rune('a'+i))
		_, _, err := svc.CreateTransaction(ctx, in)
		require.NoError(t, err)
	}
	first, err := svc.UpdateTransaction(ctx, "cs_test_abc", model.TxFailed, nil)
	require.NoError(t, err)

	all, total, err := svc.ListTransactions(ctx, acc.ID, "", 3, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, all, 3)

	rest, _, err := svc.ListTransactions(ctx, acc.ID, "", 3, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 2)

	failed, total, err := svc.ListTransactions(ctx, acc.ID, model.TxFailed, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, failed, 1)
	assert.Equal(t, first.TransactionID, failed[0].TransactionID)
}

func TestExpireStalePending(t *testing.T) {
	svc, db := setupService(t)
	acc := seedAccount(t, db)
	ctx := context.Background()

	stale, _, err := svc.CreateTransaction(ctx, premiumCheckout(acc.ID))
	require.NoError(t, err)
	require.NoError(t, db.Model(&model.PaymentTransaction{}).
		Where("transaction_id = ?", stale.TransactionID).
		Update("created_at", time.Now().Add(-25*time.Hour)).Error)

	fresh, _, err := svc.CreateTransaction(ctx, premiumCheckout(acc.ID))
	require.NoError(t, err)

	n, err := svc.ExpireStalePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var gotStale model.PaymentTransaction
	require.NoError(t, db.Where("transaction_id = ?", stale.TransactionID).First(&gotStale).Error)
	assert.Equal(t, model.TxCancelled, gotStale.Status)

	var gotFresh model.PaymentTransaction
	require.NoError(t, db.Where("transaction_id = ?", fresh.TransactionID).First(&gotFresh).Error)
	assert.Equal(t, model.TxPending, gotFresh.Status)
}
