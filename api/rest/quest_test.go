package rest_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lingoleap/server/api/rest"
	"github.com/lingoleap/server/billing"
	"github.com/lingoleap/server/gamify/quest"
	"github.com/lingoleap/server/gamify/reward"
	mw "github.com/lingoleap/server/middleware"
	"github.com/lingoleap/server/model"
	"github.com/lingoleap/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type apiEnv struct {
	router *gin.Engine
	db     *gorm.DB
	token  string
	userID int64
}

// newAPIEnv wires the full authenticated API surface against in-memory
// storage and logs in one user.
func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger, _ := zap.NewDevelopment()
	sec := testSecurity()

	quests := quest.NewService(db, logger)
	rewards := reward.NewService(db, c, ps, 5, logger)
	bills := billing.NewService(db, 0, logger)

	authH := rest.NewAuthHandler(db, c, sec)
	questH := rest.NewQuestHandler(quests, rewards, logger)
	rewardH := rest.NewRewardHandler(rewards, logger)
	subH := rest.NewSubscriptionHandler(bills, logger)

	r := gin.New()
	r.POST("/api/auth/login", authH.Login)
	auth := r.Group("/api", mw.Auth(sec, c))
	{
		auth.GET("/users/:id/quests", questH.List)
		auth.PUT("/users/:id/quests", questH.Update)
		auth.POST("/rewards", rewardH.Add)
		auth.GET("/rewards", rewardH.History)
		auth.POST("/users/:id/subscriptions", subH.Create)
		auth.PUT("/users/:id/subscriptions", subH.Update)
		auth.GET("/users/:id/subscriptions", subH.List)
	}

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "learner", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	return &apiEnv{
		router: r,
		db:     db,
		token:  resp["token"].(string),
		userID: int64(resp["user_id"].(float64)),
	}
}

func (e *apiEnv) seedLessonQuest(t *testing.T, target int) *model.QuestDefinition {
	t.Helper()
	condJSON, _ := json.Marshal([]model.QuestCondition{
		{ConditionID: "c1", Type: model.ConditionCompleteLessons, Target: target},
	})
	rewardJSON, _ := json.Marshal([]model.QuestReward{
		{Type: model.RewardXP, Value: 50},
		{Type: model.RewardHearts, Value: 1},
	})
	def := &model.QuestDefinition{
		Title:      "Lesson Streak",
		Category:   model.QuestCategoryLearning,
		Difficulty: model.QuestDifficultyEasy,
		QuestType:  model.QuestTypeDaily,
		Active:     true,
		Visible:    true,
		Conditions: datatypes.JSON(condJSON),
		Rewards:    datatypes.JSON(rewardJSON),
	}
	require.NoError(t, e.db.Create(def).Error)
	return def
}

func (e *apiEnv) putQuest(delta int) *map[string]interface{} {
	w := doJSON(e.router, http.MethodPut, fmt.Sprintf("/api/users/%d/quests", e.userID),
		map[string]interface{}{"condition_type": model.ConditionCompleteLessons, "increment_value": delta},
		"Authorization", "Bearer "+e.token)
	if w.Code != http.StatusOK {
		return nil
	}
	var resp map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return &resp
}

func TestQuestRoutes_Unauthorized(t *testing.T) {
	e := newAPIEnv(t)

	w := doJSON(e.router, http.MethodGet, fmt.Sprintf("/api/users/%d/quests", e.userID), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestQuestRoutes_OtherUserReadsAsNotFound(t *testing.T) {
	e := newAPIEnv(t)
	e.seedLessonQuest(t, 5)

	w := doJSON(e.router, http.MethodGet, fmt.Sprintf("/api/users/%d/quests", e.userID+1), nil,
		"Authorization", "Bearer "+e.token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(e.router, http.MethodPut, fmt.Sprintf("/api/users/%d/quests", e.userID+1),
		map[string]interface{}{"condition_type": model.ConditionCompleteLessons},
		"Authorization", "Bearer "+e.token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuestUpdate_NoEligibleQuest(t *testing.T) {
	e := newAPIEnv(t)

	w := doJSON(e.router, http.MethodPut, fmt.Sprintf("/api/users/%d/quests", e.userID),
		map[string]interface{}{"condition_type": model.ConditionCompleteLessons},
		"Authorization", "Bearer "+e.token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuestUpdate_AssignsOnFirstReport(t *testing.T) {
	e := newAPIEnv(t)
	e.seedLessonQuest(t, 5)

	resp := e.putQuest(1)
	require.NotNil(t, resp)
	data := (*resp)["data"].(map[string]interface{})
	assert.Equal(t, true, data["was_newly_assigned"])
	assert.Equal(t, false, data["was_completed"])

	uq := data["user_quest"].(map[string]interface{})
	assert.Equal(t, model.QuestStatusInProgress, uq["status"])
	assert.Equal(t, float64(20), uq["overall_progress"])
}

func TestQuestUpdate_CompletesAndSettles(t *testing.T) {
	e := newAPIEnv(t)
	e.seedLessonQuest(t, 5)

	// Worked example: xp 100, hearts 3 before the final lesson.
	require.NoError(t, e.db.Model(&model.Account{}).Where("id = ?", e.userID).
		Updates(map[string]interface{}{"xp": 100, "hearts": 3}).Error)

	for i := 0; i < 4; i++ {
		require.NotNil(t, e.putQuest(1))
	}
	resp := e.putQuest(1)
	require.NotNil(t, resp)
	data := (*resp)["data"].(map[string]interface{})
	assert.Equal(t, true, data["was_completed"])
	assert.Equal(t, false, data["was_newly_assigned"])
	assert.Equal(t, "quest completed", (*resp)["message"])

	claims := data["claimed_rewards"].([]interface{})
	assert.Len(t, claims, 2)

	var acc model.Account
	require.NoError(t, e.db.First(&acc, e.userID).Error)
	assert.Equal(t, int64(150), acc.XP)
	assert.Equal(t, 4, acc.Hearts)

	// The completed quest is never re-assigned; with no other quest left
	// the next report finds nothing eligible and the counters stay put.
	assert.Nil(t, e.putQuest(1))

	require.NoError(t, e.db.First(&acc, e.userID).Error)
	assert.Equal(t, int64(150), acc.XP)
	assert.Equal(t, 4, acc.Hearts)
}

func TestQuestUpdate_InvalidBody(t *testing.T) {
	e := newAPIEnv(t)

	w := doJSON(e.router, http.MethodPut, fmt.Sprintf("/api/users/%d/quests", e.userID),
		map[string]interface{}{}, "Authorization", "Bearer "+e.token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(e.router, http.MethodPut, fmt.Sprintf("/api/users/%d/quests", e.userID),
		map[string]interface{}{"condition_type": model.ConditionCompleteLessons, "increment_value": -2},
		"Authorization", "Bearer "+e.token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuestList(t *testing.T) {
	e := newAPIEnv(t)
	e.seedLessonQuest(t, 5)
	require.NotNil(t, e.putQuest(2))

	w := doJSON(e.router, http.MethodGet, fmt.Sprintf("/api/users/%d/quests", e.userID), nil,
		"Authorization", "Bearer "+e.token)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})

	quests := data["quests"].([]interface{})
	require.Len(t, quests, 1)
	view := quests[0].(map[string]interface{})
	assert.Equal(t, "active", view["status"])
	assert.Equal(t, float64(40), view["progress"])

	stats := data["stats"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["total_assigned"])
	assert.Equal(t, float64(1), stats["total_available"])
	assert.Equal(t, float64(0), stats["completed_this_month"])
}

func TestQuestList_FilterMismatch(t *testing.T) {
	e := newAPIEnv(t)
	e.seedLessonQuest(t, 5)

	w := doJSON(e.router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/quests?type=weekly", e.userID), nil,
		"Authorization", "Bearer "+e.token)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Empty(t, data["quests"])
}
