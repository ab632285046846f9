package quest

import (
	"fmt"
	"time"

	"github.com/lingoleap/server/model"
)

// External quest statuses shown to clients.
const (
	ViewStatusActive    = "active"
	ViewStatusCompleted = "completed"
	ViewStatusLocked    = "locked"
)

// QuestView is the externally visible merge of a quest definition and a
// user's progress on it.
type QuestView struct {
	QuestID     int64                     `json:"quest_id"`
	Title       string                    `json:"title"`
	Description string                    `json:"description"`
	Category    string                    `json:"category"`
	Difficulty  string                    `json:"difficulty"`
	QuestType   string                    `json:"quest_type"`
	Priority    int                       `json:"priority"`
	Status      string                    `json:"status"`
	Progress    int                       `json:"progress"`
	Conditions  []model.ConditionProgress `json:"conditions"`
	Rewards     []model.QuestReward       `json:"rewards"`
	ExpiresIn   string                    `json:"expires_in,omitempty"`
}

// Project merges a quest definition with the user's progress (nil when the
// quest was never assigned). It is a pure function with no side effects.
func Project(def *model.QuestDefinition, progress *model.UserQuestProgress, now time.Time) (*QuestView, error) {
	view := &QuestView{
		QuestID:     def.ID,
		Title:       def.Title,
		Description: def.Description,
		Category:    def.Category,
		Difficulty:  def.Difficulty,
		QuestType:   def.QuestType,
		Priority:    def.Priority,
		ExpiresIn:   FormatExpiresIn(def.EndAt, now),
	}

	rewards, err := def.DecodeRewards()
	if err != nil {
		return nil, err
	}
	view.Rewards = rewards

	if progress == nil {
		// Available but never assigned: synthesize zeroed condition rows.
		conds, err := def.DecodeConditions()
		if err != nil {
			return nil, err
		}
		view.Status = ViewStatusActive
		view.Conditions = make([]model.ConditionProgress, len(conds))
		for i, c := range conds {
			view.Conditions[i] = model.ConditionProgress{
				ConditionID:   c.ConditionID,
				ConditionType: c.Type,
				TargetValue:   c.Target,
			}
		}
		return view, nil
	}

	switch progress.Status {
	case model.QuestStatusCompleted:
		view.Status = ViewStatusCompleted
	case model.QuestStatusAssigned, model.QuestStatusInProgress:
		view.Status = ViewStatusActive
	default:
		view.Status = ViewStatusLocked
	}
	view.Progress = progress.OverallProgress
	view.Priority = progress.Priority

	conds, err := progress.DecodeConditions()
	if err != nil {
		return nil, err
	}
	view.Conditions = conds
	return view, nil
}

// FormatExpiresIn renders the remaining time until end as "2j 3h",
// "3h 45m", "45m", or "Soon" once nothing meaningful remains. Past
// deadlines clamp to zero; a nil end date renders empty.
func FormatExpiresIn(end *time.Time, now time.Time) string {
	if end == nil {
		return ""
	}
	remaining := end.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	days := int(remaining.Hours()) / 24
	hours := int(remaining.Hours()) % 24
	minutes := int(remaining.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dj %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return "Soon"
	}
}
