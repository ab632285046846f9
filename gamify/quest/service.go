package quest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lingoleap/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound is returned when the user ID resolves to no account.
	ErrUserNotFound = errors.New("quest: user not found")
	// ErrNoActiveQuests is returned when no active quest tracks the
	// requested condition type at all.
	ErrNoActiveQuests = errors.New("quest: no active quests for condition")
	// ErrNoEligibleQuest is returned when every matching quest is already
	// assigned to or completed by the user.
	ErrNoEligibleQuest = errors.New("quest: no eligible quest")
	// ErrProgressNotFound is returned when the user has no progress record
	// for the given quest.
	ErrProgressNotFound = errors.New("quest: progress record not found")
	// ErrInvalidIncrement is returned for a zero or negative increment.
	ErrInvalidIncrement = errors.New("quest: increment must be positive")
)

// Service assigns quests and advances per-condition progress.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a quest Service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Assign picks the most appropriate active quest tracking conditionType and
// creates a progress record for the user. Newest quests win ties. Quests the
// user already has in progress or completed are never re-assigned. If the
// user already holds a record for the selected quest (repeat call or race),
// that record is returned unchanged. The bool result reports whether a new
// record was created.
func (svc *Service) Assign(ctx context.Context, userID int64, conditionType string) (*model.UserQuestProgress, bool, error) {
	var acc model.Account
	if err := svc.db.WithContext(ctx).First(&acc, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrUserNotFound
		}
		return nil, false, err
	}

	now := time.Now()
	var defs []model.QuestDefinition
	if err := svc.db.WithContext(ctx).
		Where("active = ?", true).
		Order("created_at DESC").
		Find(&defs).Error; err != nil {
		return nil, false, err
	}

	// Candidates: live quests that track the requested condition type.
	candidates := make([]*model.QuestDefinition, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		if !def.ActiveAt(now) {
			continue
		}
		conds, err := def.DecodeConditions()
		if err != nil {
			svc.logger.Warn("quest has malformed conditions",
				zap.Int64("quest_id", def.ID), zap.Error(err))
			continue
		}
		for _, c := range conds {
			if c.Type == conditionType {
				candidates = append(candidates, def)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return nil, false, ErrNoActiveQuests
	}
	candidateSet := make(map[int64]bool, len(candidates))
	for _, def := range candidates {
		candidateSet[def.ID] = true
	}

	// Repeat call: the user already works on a quest tracking this
	// condition type. Return that record instead of assigning another.
	var open []model.UserQuestProgress
	if err := svc.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.QuestStatusInProgress).
		Order("assigned_at DESC").
		Find(&open).Error; err != nil {
		return nil, false, err
	}
	for i := range open {
		if candidateSet[open[i].QuestID] {
			return &open[i], false, nil
		}
	}

	var taken []int64
	if err := svc.db.WithContext(ctx).
		Model(&model.UserQuestProgress{}).
		Where("user_id = ? AND status IN ?", userID,
			[]string{model.QuestStatusInProgress, model.QuestStatusCompleted}).
		Pluck("quest_id", &taken).Error; err != nil {
		return nil, false, err
	}
	takenSet := make(map[int64]bool, len(taken))
	for _, id := range taken {
		takenSet[id] = true
	}

	var selected *model.QuestDefinition
	for _, def := range candidates {
		if !takenSet[def.ID] {
			selected = def
			break
		}
	}
	if selected == nil {
		return nil, false, ErrNoEligibleQuest
	}

	// A concurrent assign may have created the record after the
	// exclusion query ran.
	var existing model.UserQuestProgress
	err := svc.db.WithContext(ctx).
		Where("user_id = ? AND quest_id = ?", userID, selected.ID).
		First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	progress, err := newProgress(userID, selected, now)
	if err != nil {
		return nil, false, err
	}
	if err := svc.db.WithContext(ctx).Create(progress).Error; err != nil {
		// Unique (user, quest) index lost a race: fetch the winner.
		var winner model.UserQuestProgress
		if ferr := svc.db.WithContext(ctx).
			Where("user_id = ? AND quest_id = ?", userID, selected.ID).
			First(&winner).Error; ferr == nil {
			return &winner, false, nil
		}
		return nil, false, err
	}

	svc.logger.Info("quest assigned",
		zap.Int64("user_id", userID),
		zap.Int64("quest_id", selected.ID),
		zap.String("condition_type", conditionType))
	return progress, true, nil
}

func newProgress(userID int64, def *model.QuestDefinition, now time.Time) (*model.UserQuestProgress, error) {
	conds, err := def.DecodeConditions()
	if err != nil {
		return nil, err
	}
	entries := make([]model.ConditionProgress, len(conds))
	for i, c := range conds {
		entries[i] = model.ConditionProgress{
			ConditionID:   c.ConditionID,
			ConditionType: c.Type,
			CurrentValue:  0,
			TargetValue:   c.Target,
			IsCompleted:   false,
		}
	}
	condJSON, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	started := now
	return &model.UserQuestProgress{
		UserID:     userID,
		QuestID:    def.ID,
		Status:     model.QuestStatusInProgress,
		Conditions: datatypes.JSON(condJSON),
		Priority:   def.Priority,
		AssignedAt: now,
		StartedAt:  &started,
	}, nil
}

// IncrementProgress adds delta to every condition of the given type on the
// user's record for questID and recomputes completion. Counter values may
// overshoot their target; only the completion flag saturates. The bool
// result reports whether this call transitioned the quest to completed.
// Records already completed are left untouched.
func (svc *Service) IncrementProgress(ctx context.Context, userID, questID int64, conditionType string, delta int) (*model.UserQuestProgress, bool, error) {
	if delta <= 0 {
		return nil, false, ErrInvalidIncrement
	}

	var progress model.UserQuestProgress
	err := svc.db.WithContext(ctx).
		Where("user_id = ? AND quest_id = ?", userID, questID).
		First(&progress).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrProgressNotFound
		}
		return nil, false, err
	}
	if progress.Status == model.QuestStatusCompleted {
		return &progress, false, nil
	}

	conds, err := progress.DecodeConditions()
	if err != nil {
		return nil, false, err
	}

	changed := false
	for i := range conds {
		if conds[i].ConditionType != conditionType {
			continue
		}
		conds[i].CurrentValue += delta
		conds[i].IsCompleted = conds[i].CurrentValue >= conds[i].TargetValue
		changed = true
	}
	if !changed {
		return &progress, false, nil
	}

	progress.OverallProgress = overallProgress(conds)

	condJSON, err := json.Marshal(conds)
	if err != nil {
		return nil, false, err
	}
	progress.Conditions = datatypes.JSON(condJSON)

	completedNow := allCompleted(conds)
	if completedNow {
		now := time.Now()
		progress.Status = model.QuestStatusCompleted
		progress.CompletedAt = &now
	} else if progress.Status == model.QuestStatusAssigned {
		progress.Status = model.QuestStatusInProgress
	}

	if err := svc.db.WithContext(ctx).Save(&progress).Error; err != nil {
		return nil, false, err
	}
	if completedNow {
		svc.logger.Info("quest completed",
			zap.Int64("user_id", userID),
			zap.Int64("quest_id", questID))
	}
	return &progress, completedNow, nil
}

func allCompleted(conds []model.ConditionProgress) bool {
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		if !c.IsCompleted {
			return false
		}
	}
	return true
}

// overallProgress maps condition state to a 0–100 percentage. Single-condition
// quests report partial progress; multi-condition quests count completed
// conditions.
func overallProgress(conds []model.ConditionProgress) int {
	if len(conds) == 0 {
		return 0
	}
	if len(conds) == 1 {
		c := conds[0]
		if c.TargetValue <= 0 {
			return 100
		}
		pct := c.CurrentValue * 100 / c.TargetValue
		if pct > 100 {
			pct = 100
		}
		return pct
	}
	done := 0
	for _, c := range conds {
		if c.IsCompleted {
			done++
		}
	}
	return done * 100 / len(conds)
}

// ListForUser returns all quest definitions matching the optional filters,
// paired with the user's progress where one exists.
func (svc *Service) ListForUser(ctx context.Context, userID int64, questType, category, difficulty string) ([]model.QuestDefinition, map[int64]*model.UserQuestProgress, error) {
	q := svc.db.WithContext(ctx).
		Where("active = ? AND visible = ?", true, true).
		Order("priority DESC, created_at DESC")
	if questType != "" {
		q = q.Where("quest_type = ?", questType)
	}
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if difficulty != "" {
		q = q.Where("difficulty = ?", difficulty)
	}
	var defs []model.QuestDefinition
	if err := q.Find(&defs).Error; err != nil {
		return nil, nil, err
	}

	var records []model.UserQuestProgress
	if err := svc.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&records).Error; err != nil {
		return nil, nil, err
	}
	byQuest := make(map[int64]*model.UserQuestProgress, len(records))
	for i := range records {
		byQuest[records[i].QuestID] = &records[i]
	}
	return defs, byQuest, nil
}

// Stats summarizes a user's quest standing for the list endpoint.
type Stats struct {
	CompletedThisMonth int   `json:"completed_this_month"`
	TotalAssigned      int   `json:"total_assigned"`
	TotalAvailable     int   `json:"total_available"`
	XP                 int64 `json:"xp"`
	Streak             int   `json:"streak"`
}

// StatsForUser computes quest statistics for one user.
func (svc *Service) StatsForUser(ctx context.Context, userID int64, totalAvailable int) (*Stats, error) {
	var acc model.Account
	if err := svc.db.WithContext(ctx).First(&acc, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	var records []model.UserQuestProgress
	if err := svc.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&records).Error; err != nil {
		return nil, err
	}

	monthStart := time.Now().AddDate(0, 0, -30)
	stats := &Stats{
		TotalAssigned:  len(records),
		TotalAvailable: totalAvailable,
		XP:             acc.XP,
		Streak:         acc.Streak,
	}
	for _, r := range records {
		if r.Status == model.QuestStatusCompleted && r.CompletedAt != nil && r.CompletedAt.After(monthStart) {
			stats.CompletedThisMonth++
		}
	}
	return stats, nil
}
