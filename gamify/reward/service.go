package reward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lingoleap/server/cache"
	"github.com/lingoleap/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound is returned when the user ID resolves to no account.
	ErrUserNotFound = errors.New("reward: user not found")
	// ErrProgressNotFound is returned when the user-quest record is absent.
	ErrProgressNotFound = errors.New("reward: progress record not found")
	// ErrInvalidType is returned for an unknown ledger entry type.
	ErrInvalidType = errors.New("reward: invalid reward type")
)

// LeaderboardKey is the sorted set holding user XP for the leaderboard.
const LeaderboardKey = "leaderboard:xp"

// EventChannel carries quest/reward events to SSE subscribers.
const EventChannel = "quest-events"

const claimLockTTL = time.Minute

// Service settles quest rewards onto accounts and keeps the reward-history
// ledger and XP leaderboard up to date.
type Service struct {
	db        *gorm.DB
	cache     cache.Cache
	pubsub    cache.PubSub
	maxHearts int
	logger    *zap.Logger
}

// NewService creates a reward Service. maxHearts caps the hearts counter
// (values <= 0 fall back to 5).
func NewService(db *gorm.DB, c cache.Cache, ps cache.PubSub, maxHearts int, logger *zap.Logger) *Service {
	if maxHearts <= 0 {
		maxHearts = 5
	}
	return &Service{db: db, cache: c, pubsub: ps, maxHearts: maxHearts, logger: logger}
}

// ClaimResult aggregates what a settlement granted.
type ClaimResult struct {
	Claims      []model.ClaimedReward `json:"claims"`
	TotalXP     int                   `json:"total_xp"`
	TotalGems   int                   `json:"total_gems"`
	TotalHearts int                   `json:"total_hearts"`
	Badges      []int                 `json:"badges"`
}

// Claim settles the rewards of a completed quest exactly once. It returns
// (nil, nil) when the record is not completed or was already settled, so
// callers can retry the surrounding workflow safely. The account update and
// the claim log append happen in one DB transaction; a cache SetNX lock
// additionally fences concurrent settlements of the same record.
func (svc *Service) Claim(ctx context.Context, userID, userQuestID int64) (*ClaimResult, error) {
	var progress model.UserQuestProgress
	err := svc.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", userQuestID, userID).
		First(&progress).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProgressNotFound
		}
		return nil, err
	}
	claimed, err := progress.DecodeClaims()
	if err != nil {
		return nil, err
	}
	if progress.Status != model.QuestStatusCompleted || len(claimed) > 0 {
		return nil, nil
	}

	lockKey := fmt.Sprintf("claim:%d:%d", userID, userQuestID)
	acquired, err := svc.cache.SetNX(ctx, lockKey, "1", claimLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, nil
	}

	var def model.QuestDefinition
	if err := svc.db.WithContext(ctx).First(&def, progress.QuestID).Error; err != nil {
		_ = svc.cache.Del(ctx, lockKey)
		return nil, err
	}
	rewards, err := def.DecodeRewards()
	if err != nil {
		_ = svc.cache.Del(ctx, lockKey)
		return nil, err
	}

	now := time.Now()
	result := &ClaimResult{Claims: make([]model.ClaimedReward, 0, len(rewards))}
	for _, r := range rewards {
		result.Claims = append(result.Claims, model.ClaimedReward{
			RewardType:  r.Type,
			RewardValue: r.Value,
			ClaimedAt:   now,
		})
		switch r.Type {
		case model.RewardXP:
			result.TotalXP += r.Value
		case model.RewardGems:
			result.TotalGems += r.Value
		case model.RewardHearts:
			result.TotalHearts += r.Value
		case model.RewardBadge:
			result.Badges = append(result.Badges, r.Value)
		}
	}

	var newXP int64
	txErr := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-read under the transaction; another request may have settled
		// between our first read and the lock.
		var current model.UserQuestProgress
		if err := tx.Where("id = ?", userQuestID).First(&current).Error; err != nil {
			return err
		}
		claims, err := current.DecodeClaims()
		if err != nil {
			return err
		}
		if current.Status != model.QuestStatusCompleted || len(claims) > 0 {
			result = nil
			return nil
		}

		claimJSON, err := json.Marshal(result.Claims)
		if err != nil {
			return err
		}
		if err := tx.Model(&current).Updates(map[string]interface{}{
			"rewards_claimed": datatypes.JSON(claimJSON),
			"completed_at":    now,
		}).Error; err != nil {
			return err
		}

		var acc model.Account
		if err := tx.First(&acc, userID).Error; err != nil {
			return err
		}
		acc.XP += int64(result.TotalXP)
		acc.Gems += int64(result.TotalGems)
		acc.Hearts = clampHearts(acc.Hearts+result.TotalHearts, svc.maxHearts)
		if err := tx.Model(&acc).Updates(map[string]interface{}{
			"xp":     acc.XP,
			"gems":   acc.Gems,
			"hearts": acc.Hearts,
		}).Error; err != nil {
			return err
		}
		newXP = acc.XP

		// Settlements also land in the reward-history ledger.
		if result.TotalXP > 0 {
			ev := &model.RewardEvent{UserID: userID, Type: model.RewardEventXP, Amount: result.TotalXP, Reason: "quest_reward"}
			if err := tx.Create(ev).Error; err != nil {
				return err
			}
		}
		if result.TotalGems > 0 {
			ev := &model.RewardEvent{UserID: userID, Type: model.RewardEventGems, Amount: result.TotalGems, Reason: "quest_reward"}
			if err := tx.Create(ev).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		_ = svc.cache.Del(ctx, lockKey)
		return nil, txErr
	}
	if result == nil {
		return nil, nil
	}

	_ = svc.cache.ZAdd(ctx, LeaderboardKey, float64(newXP), strconv.FormatInt(userID, 10))
	svc.publishEvent(ctx, "quest_completed", userID, map[string]interface{}{
		"user_quest_id": userQuestID,
		"quest_id":      progress.QuestID,
		"rewards":       result.Claims,
	})
	svc.logger.Info("quest rewards settled",
		zap.Int64("user_id", userID),
		zap.Int64("user_quest_id", userQuestID),
		zap.Int("xp", result.TotalXP),
		zap.Int("hearts", result.TotalHearts))
	return result, nil
}

func clampHearts(n, max int) int {
	if n > max {
		return max
	}
	if n < 0 {
		return 0
	}
	return n
}

// GrantXP adds n XP to the account and refreshes the leaderboard entry.
// XP never decreases; non-positive grants are ignored.
func (svc *Service) GrantXP(ctx context.Context, userID int64, n int) error {
	if n <= 0 {
		return nil
	}
	res := svc.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", userID).
		Update("xp", gorm.Expr("xp + ?", n))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}

	var acc model.Account
	if err := svc.db.WithContext(ctx).Select("id, xp").First(&acc, userID).Error; err == nil {
		_ = svc.cache.ZAdd(ctx, LeaderboardKey, float64(acc.XP), strconv.FormatInt(userID, 10))
	}
	return nil
}

// GrantHearts adds n hearts, clamped to the configured maximum. Hearts are
// never decremented here.
func (svc *Service) GrantHearts(ctx context.Context, userID int64, n int) error {
	if n <= 0 {
		return nil
	}
	return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acc model.Account
		if err := tx.First(&acc, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		return tx.Model(&acc).Update("hearts", clampHearts(acc.Hearts+n, svc.maxHearts)).Error
	})
}

// Record appends one entry to the reward-history ledger and applies the
// amount to the matching account counter.
func (svc *Service) Record(ctx context.Context, userID int64, typ string, amount int, reason, lessonID string) (*model.RewardEvent, error) {
	switch typ {
	case model.RewardEventXP, model.RewardEventGems, model.RewardEventGel:
	default:
		return nil, ErrInvalidType
	}

	var acc model.Account
	if err := svc.db.WithContext(ctx).First(&acc, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	ev := &model.RewardEvent{
		UserID:   userID,
		Type:     typ,
		Amount:   amount,
		Reason:   reason,
		LessonID: lessonID,
	}
	if err := svc.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}

	switch typ {
	case model.RewardEventXP:
		if err := svc.GrantXP(ctx, userID, amount); err != nil {
			return nil, err
		}
	case model.RewardEventGems, model.RewardEventGel:
		if amount > 0 {
			if err := svc.db.WithContext(ctx).Model(&model.Account{}).
				Where("id = ?", userID).
				Update("gems", gorm.Expr("gems + ?", amount)).Error; err != nil {
				return nil, err
			}
		}
	}

	svc.publishEvent(ctx, "reward_granted", userID, map[string]interface{}{
		"type":   typ,
		"amount": amount,
		"reason": reason,
	})
	return ev, nil
}

// History returns the user's most recent ledger entries, newest first.
func (svc *Service) History(ctx context.Context, userID int64, limit int) ([]model.RewardEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var events []model.RewardEvent
	err := svc.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (svc *Service) publishEvent(ctx context.Context, event string, userID int64, data map[string]interface{}) {
	if svc.pubsub == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"event":   event,
		"user_id": userID,
		"data":    data,
	})
	if err != nil {
		return
	}
	if err := svc.pubsub.Publish(ctx, EventChannel, string(payload)); err != nil {
		svc.logger.Warn("event publish failed", zap.String("event", event), zap.Error(err))
	}
}
