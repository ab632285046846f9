package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lingoleap/server/model"
	"github.com/lingoleap/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nopLogger() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

// writeSeed writes quests as a JSON seed file into dir.
func writeSeed(t *testing.T, dir, filename string, quests []SeedQuest) {
	t.Helper()
	data, err := json.Marshal(quests)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), data, 0644))
}

func validSeed(slug string) SeedQuest {
	return SeedQuest{
		Slug:  slug,
		Title: "Lesson Sprint",
		Conditions: []model.QuestCondition{
			{ConditionID: "c1", Type: model.ConditionCompleteLessons, Target: 3},
		},
		Rewards: []model.QuestReward{
			{Type: model.RewardXP, Value: 30},
		},
	}
}

func TestLoad_InsertsAndDefaults(t *testing.T) {
	db := testutil.SetupTestDB(t)
	dir := t.TempDir()
	writeSeed(t, dir, "daily.json", []SeedQuest{validSeed("lesson-sprint")})

	n, err := NewLoader(dir, db, nopLogger()).Load()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var def model.QuestDefinition
	require.NoError(t, db.Where("slug = ?", "lesson-sprint").First(&def).Error)
	assert.Equal(t, "Lesson Sprint", def.Title)
	assert.Equal(t, model.QuestCategoryLearning, def.Category)
	assert.Equal(t, model.QuestDifficultyEasy, def.Difficulty)
	assert.Equal(t, model.QuestTypeDaily, def.QuestType)
	assert.True(t, def.Active)
	assert.True(t, def.Visible)
}

func TestLoad_IdempotentBySlug(t *testing.T) {
	db := testutil.SetupTestDB(t)
	dir := t.TempDir()
	writeSeed(t, dir, "daily.json", []SeedQuest{validSeed("lesson-sprint")})

	loader := NewLoader(dir, db, nopLogger())
	_, err := loader.Load()
	require.NoError(t, err)

	n, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	var count int64
	db.Model(&model.QuestDefinition{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestLoad_MultipleFiles(t *testing.T) {
	db := testutil.SetupTestDB(t)
	dir := t.TempDir()
	writeSeed(t, dir, "daily.json", []SeedQuest{validSeed("a"), validSeed("b")})
	writeSeed(t, dir, "weekly.json", []SeedQuest{validSeed("c")})

	n, err := NewLoader(dir, db, nopLogger()).Load()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLoad_MissingDirIsNoop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	n, err := NewLoader(filepath.Join(t.TempDir(), "absent"), db, nopLogger()).Load()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLoad_Validation(t *testing.T) {
	db := testutil.SetupTestDB(t)

	cases := []struct {
		name   string
		mutate func(*SeedQuest)
	}{
		{"missing slug", func(s *SeedQuest) { s.Slug = "" }},
		{"missing title", func(s *SeedQuest) { s.Title = "" }},
		{"no conditions", func(s *SeedQuest) { s.Conditions = nil }},
		{"zero target", func(s *SeedQuest) { s.Conditions[0].Target = 0 }},
		{"no rewards", func(s *SeedQuest) { s.Rewards = nil }},
		{"bad reward type", func(s *SeedQuest) { s.Rewards[0].Type = "karma" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			seed := validSeed("broken")
			tc.mutate(&seed)
			writeSeed(t, dir, "bad.json", []SeedQuest{seed})

			_, err := NewLoader(dir, db, nopLogger()).Load()
			assert.Error(t, err)
		})
	}
}
