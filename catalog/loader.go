package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lingoleap/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SeedQuest is one quest definition in a seed file. Seed files hold an array
// of these; the slug identifies the quest across reloads.
type SeedQuest struct {
	Slug        string                 `json:"slug"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	Difficulty  string                 `json:"difficulty"`
	QuestType   string                 `json:"quest_type"`
	Visible     *bool                  `json:"visible"`
	Active      *bool                  `json:"active"`
	Priority    int                    `json:"priority"`
	StartAt     *time.Time             `json:"start_at"`
	EndAt       *time.Time             `json:"end_at"`
	Conditions  []model.QuestCondition `json:"conditions"`
	Rewards     []model.QuestReward    `json:"rewards"`
}

// Loader seeds quest definitions from JSON files at startup. Files the admin
// API later edits are not rewritten; seeding only fills gaps by slug.
type Loader struct {
	dir    string
	db     *gorm.DB
	logger *zap.Logger
}

// NewLoader creates a Loader reading *.json files from dir.
func NewLoader(dir string, db *gorm.DB, logger *zap.Logger) *Loader {
	return &Loader{dir: dir, db: db, logger: logger}
}

// Load reads every seed file and inserts quests whose slug is not present
// yet. It returns the number of quests inserted. A missing seed directory is
// not an error; dedicated deployments may run admin-managed only.
func (l *Loader) Load() (int, error) {
	if l.dir == "" {
		return 0, nil
	}
	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		l.logger.Info("quest seed directory absent, skipping", zap.String("dir", l.dir))
		return 0, nil
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "*.json"))
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	inserted := 0
	for _, file := range files {
		n, err := l.loadFile(file)
		if err != nil {
			return inserted, fmt.Errorf("seed file %s: %w", filepath.Base(file), err)
		}
		inserted += n
	}
	l.logger.Info("quest seed load complete",
		zap.Int("files", len(files)), zap.Int("inserted", inserted))
	return inserted, nil
}

func (l *Loader) loadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var seeds []SeedQuest
	if err := json.Unmarshal(data, &seeds); err != nil {
		return 0, err
	}

	inserted := 0
	for i := range seeds {
		seed := &seeds[i]
		if err := validateSeed(seed); err != nil {
			return inserted, err
		}

		var count int64
		if err := l.db.Model(&model.QuestDefinition{}).
			Where("slug = ?", seed.Slug).
			Count(&count).Error; err != nil {
			return inserted, err
		}
		if count > 0 {
			continue
		}

		def, err := seed.toDefinition()
		if err != nil {
			return inserted, err
		}
		if err := l.db.Create(def).Error; err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func validateSeed(seed *SeedQuest) error {
	if seed.Slug == "" {
		return fmt.Errorf("quest %q: missing slug", seed.Title)
	}
	if seed.Title == "" {
		return fmt.Errorf("quest %q: missing title", seed.Slug)
	}
	if len(seed.Conditions) == 0 {
		return fmt.Errorf("quest %q: no conditions", seed.Slug)
	}
	for _, c := range seed.Conditions {
		if c.Type == "" || c.Target <= 0 {
			return fmt.Errorf("quest %q: condition %q needs type and positive target", seed.Slug, c.ConditionID)
		}
	}
	if len(seed.Rewards) == 0 {
		return fmt.Errorf("quest %q: no rewards", seed.Slug)
	}
	for _, r := range seed.Rewards {
		switch r.Type {
		case model.RewardXP, model.RewardGems, model.RewardHearts, model.RewardBadge:
		default:
			return fmt.Errorf("quest %q: unknown reward type %q", seed.Slug, r.Type)
		}
	}
	return nil
}

func (seed *SeedQuest) toDefinition() (*model.QuestDefinition, error) {
	condJSON, err := json.Marshal(seed.Conditions)
	if err != nil {
		return nil, err
	}
	rewardJSON, err := json.Marshal(seed.Rewards)
	if err != nil {
		return nil, err
	}

	def := &model.QuestDefinition{
		Slug:        seed.Slug,
		Title:       seed.Title,
		Description: seed.Description,
		Category:    orDefault(seed.Category, model.QuestCategoryLearning),
		Difficulty:  orDefault(seed.Difficulty, model.QuestDifficultyEasy),
		QuestType:   orDefault(seed.QuestType, model.QuestTypeDaily),
		Visible:     true,
		Active:      true,
		Priority:    seed.Priority,
		StartAt:     seed.StartAt,
		EndAt:       seed.EndAt,
		Conditions:  datatypes.JSON(condJSON),
		Rewards:     datatypes.JSON(rewardJSON),
	}
	if seed.Visible != nil {
		def.Visible = *seed.Visible
	}
	if seed.Active != nil {
		def.Active = *seed.Active
	}
	return def, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
