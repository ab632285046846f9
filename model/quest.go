package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Quest categories.
const (
	QuestCategoryLearning    = "learning"
	QuestCategorySocial      = "social"
	QuestCategoryAchievement = "achievement"
	QuestCategoryChallenge   = "challenge"
)

// Quest difficulties.
const (
	QuestDifficultyEasy   = "easy"
	QuestDifficultyMedium = "medium"
	QuestDifficultyHard   = "hard"
	QuestDifficultyExpert = "expert"
)

// Quest duration types.
const (
	QuestTypeDaily   = "daily"
	QuestTypeWeekly  = "weekly"
	QuestTypeMonthly = "monthly"
	QuestTypeSpecial = "special"
)

// Condition types a quest may track.
const (
	ConditionCompleteLessons = "complete_lessons"
	ConditionEarnXP          = "earn_xp"
	ConditionMaintainStreak  = "maintain_streak"
	ConditionPerfectLessons  = "perfect_lessons"
	ConditionPracticeMinutes = "practice_minutes"
	ConditionCompleteUnits   = "complete_units"
	ConditionLearnWords      = "learn_words"
	ConditionUseHearts       = "use_hearts"
	ConditionCustom          = "custom"
)

// Reward types a quest may grant.
const (
	RewardXP     = "xp"
	RewardGems   = "gems"
	RewardHearts = "hearts"
	RewardBadge  = "badge"
)

// UserQuestProgress status values.
const (
	QuestStatusAssigned   = "assigned"
	QuestStatusInProgress = "in_progress"
	QuestStatusCompleted  = "completed"
)

// QuestCondition is one requirement within a quest definition.
type QuestCondition struct {
	ConditionID string `json:"condition_id"`
	Type        string `json:"type"`
	Target      int    `json:"target"`
}

// QuestReward is one reward entry within a quest definition.
// Value is the amount for xp/gems/hearts and the badge ID for badges.
type QuestReward struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

// QuestDefinition is an admin-managed quest. The quest workflow treats it
// as read-only; user actions never mutate it.
type QuestDefinition struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug        string         `gorm:"index;size:64" json:"slug"` // set for seeded quests, empty for admin-created
	Title       string         `gorm:"size:128;not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Category    string         `gorm:"size:16;default:learning" json:"category"`
	Difficulty  string         `gorm:"size:16;default:easy" json:"difficulty"`
	QuestType   string         `gorm:"size:16;default:daily" json:"quest_type"`
	Visible     bool           `gorm:"default:true" json:"visible"`
	Active      bool           `gorm:"default:true;index" json:"active"`
	Priority    int            `gorm:"default:0" json:"priority"` // higher = shown first
	StartAt     *time.Time     `json:"start_at"`
	EndAt       *time.Time     `json:"end_at"`
	Conditions  datatypes.JSON `json:"conditions"`
	Rewards     datatypes.JSON `json:"rewards"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// DecodeConditions unmarshals the Conditions JSON column.
func (q *QuestDefinition) DecodeConditions() ([]QuestCondition, error) {
	var out []QuestCondition
	if len(q.Conditions) == 0 {
		return out, nil
	}
	err := json.Unmarshal(q.Conditions, &out)
	return out, err
}

// DecodeRewards unmarshals the Rewards JSON column.
func (q *QuestDefinition) DecodeRewards() ([]QuestReward, error) {
	var out []QuestReward
	if len(q.Rewards) == 0 {
		return out, nil
	}
	err := json.Unmarshal(q.Rewards, &out)
	return out, err
}

// ActiveAt reports whether the quest is live at the given instant.
func (q *QuestDefinition) ActiveAt(now time.Time) bool {
	if !q.Active {
		return false
	}
	if q.StartAt != nil && now.Before(*q.StartAt) {
		return false
	}
	if q.EndAt != nil && now.After(*q.EndAt) {
		return false
	}
	return true
}

// ConditionProgress mirrors one quest condition on a user's progress record.
type ConditionProgress struct {
	ConditionID   string `json:"condition_id"`
	ConditionType string `json:"condition_type"`
	CurrentValue  int    `json:"current_value"`
	TargetValue   int    `json:"target_value"`
	IsCompleted   bool   `json:"is_completed"`
}

// ClaimedReward is one settled reward on a user's progress record.
type ClaimedReward struct {
	RewardType  string    `json:"reward_type"`
	RewardValue int       `json:"reward_value"`
	ClaimedAt   time.Time `json:"claimed_at"`
}

// UserQuestProgress tracks one user's progress on one quest.
// At most one record exists per (user, quest).
type UserQuestProgress struct {
	ID              int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64          `gorm:"uniqueIndex:idx_user_quest;not null" json:"user_id"`
	QuestID         int64          `gorm:"uniqueIndex:idx_user_quest;not null" json:"quest_id"`
	Status          string         `gorm:"size:16;default:assigned;index" json:"status"`
	Conditions      datatypes.JSON `json:"conditions"`
	OverallProgress int            `gorm:"default:0" json:"overall_progress"` // 0–100
	Priority        int            `gorm:"default:0" json:"priority"`
	RewardsClaimed  datatypes.JSON `json:"rewards_claimed"`
	AssignedAt      time.Time      `json:"assigned_at"`
	StartedAt       *time.Time     `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// DecodeConditions unmarshals the Conditions JSON column.
func (p *UserQuestProgress) DecodeConditions() ([]ConditionProgress, error) {
	var out []ConditionProgress
	if len(p.Conditions) == 0 {
		return out, nil
	}
	err := json.Unmarshal(p.Conditions, &out)
	return out, err
}

// DecodeClaims unmarshals the RewardsClaimed JSON column.
func (p *UserQuestProgress) DecodeClaims() ([]ClaimedReward, error) {
	var out []ClaimedReward
	if len(p.RewardsClaimed) == 0 {
		return out, nil
	}
	err := json.Unmarshal(p.RewardsClaimed, &out)
	return out, err
}
