package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lingoleap/server/model"
	"github.com/lingoleap/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	// Account
	acc := &model.Account{Username: "learner", PasswordHash: "hash", Status: 1, Hearts: 5}
	require.NoError(t, db.Create(acc).Error)
	assert.Greater(t, acc.ID, int64(0))

	var found model.Account
	require.NoError(t, db.First(&found, acc.ID).Error)
	assert.Equal(t, "learner", found.Username)
	assert.Equal(t, 5, found.Hearts)

	// QuestDefinition
	conds, _ := json.Marshal([]model.QuestCondition{
		{ConditionID: "c1", Type: model.ConditionCompleteLessons, Target: 5},
	})
	rewards, _ := json.Marshal([]model.QuestReward{
		{Type: model.RewardXP, Value: 50},
	})
	def := &model.QuestDefinition{
		Title:      "First Steps",
		Category:   model.QuestCategoryLearning,
		Difficulty: model.QuestDifficultyEasy,
		QuestType:  model.QuestTypeDaily,
		Active:     true,
		Conditions: datatypes.JSON(conds),
		Rewards:    datatypes.JSON(rewards),
	}
	require.NoError(t, db.Create(def).Error)

	decoded, err := def.DecodeConditions()
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, 5, decoded[0].Target)

	// UserQuestProgress
	prog := &model.UserQuestProgress{
		UserID:     acc.ID,
		QuestID:    def.ID,
		Status:     model.QuestStatusInProgress,
		AssignedAt: time.Now(),
	}
	require.NoError(t, db.Create(prog).Error)

	// The (user, quest) pair is unique.
	dup := &model.UserQuestProgress{UserID: acc.ID, QuestID: def.ID, AssignedAt: time.Now()}
	assert.Error(t, db.Create(dup).Error)

	// PaymentTransaction
	tx := &model.PaymentTransaction{
		TransactionID: "tx-001",
		UserID:        acc.ID,
		PlanID:        "premium",
		Amount:        999,
		Currency:      "EUR",
	}
	require.NoError(t, db.Create(tx).Error)
	assert.Equal(t, model.TxPending, tx.Status)

	// RewardEvent
	ev := &model.RewardEvent{UserID: acc.ID, Type: model.RewardEventXP, Amount: 10, Reason: "lesson"}
	require.NoError(t, db.Create(ev).Error)

	// AuditLog
	al := &model.AuditLog{TraceID: "trace-001", Action: "reward_claim", CreatedAt: time.Now()}
	require.NoError(t, db.Create(al).Error)
}

func TestQuestDefinition_ActiveAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	q := &model.QuestDefinition{Active: true}
	assert.True(t, q.ActiveAt(now))

	q.StartAt = &future
	assert.False(t, q.ActiveAt(now))

	q.StartAt = &past
	q.EndAt = &past
	assert.False(t, q.ActiveAt(now))

	q.EndAt = &future
	assert.True(t, q.ActiveAt(now))

	q.Active = false
	assert.False(t, q.ActiveAt(now))
}

func TestPaymentTransaction_Terminal(t *testing.T) {
	tx := &model.PaymentTransaction{Status: model.TxPending}
	assert.False(t, tx.Terminal())
	tx.Status = model.TxCompleted
	assert.True(t, tx.Terminal())
}
