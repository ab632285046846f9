package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lingoleap/server/cache"
	"github.com/lingoleap/server/gamify/reward"
	"github.com/lingoleap/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LeaderboardHandler handles the XP leaderboard endpoints.
type LeaderboardHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	top    int
	logger *zap.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler. top caps both the
// query limit and the rebuilt sorted-set size.
func NewLeaderboardHandler(db *gorm.DB, c cache.Cache, top int, logger *zap.Logger) *LeaderboardHandler {
	if top <= 0 {
		top = 100
	}
	return &LeaderboardHandler{db: db, cache: c, top: top, logger: logger}
}

// LeaderboardEntry is one row in the XP leaderboard.
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	XP       int64  `json:"xp"`
	Streak   int    `json:"streak"`
}

// TopXP returns the top learners sorted by lifetime XP.
// GET /api/leaderboard/xp?limit=20
func (h *LeaderboardHandler) TopXP(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= h.top {
		limit = l
	}

	// Try the cached sorted set first.
	ctx := c.Request.Context()
	members, err := h.cache.ZRevRange(ctx, reward.LeaderboardKey, 0, int64(limit-1))
	if err == nil && len(members) > 0 {
		entries := make([]LeaderboardEntry, 0, len(members))
		for i, m := range members {
			userID, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				continue
			}
			score, _ := h.cache.ZScore(ctx, reward.LeaderboardKey, m)
			entries = append(entries, LeaderboardEntry{
				Rank:   i + 1,
				UserID: userID,
				XP:     int64(score),
			})
		}
		h.enrichNames(entries)
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"leaderboard": entries}})
		return
	}

	// Fall back to DB query.
	var accounts []model.Account
	h.db.Select("id, username, xp, streak").
		Order("xp DESC").
		Limit(limit).
		Find(&accounts)

	entries := make([]LeaderboardEntry, len(accounts))
	for i, acc := range accounts {
		entries[i] = LeaderboardEntry{
			Rank:     i + 1,
			UserID:   acc.ID,
			Username: acc.Username,
			XP:       acc.XP,
			Streak:   acc.Streak,
		}
		// Refresh cache entry.
		_ = h.cache.ZAdd(ctx, reward.LeaderboardKey, float64(acc.XP), strconv.FormatInt(acc.ID, 10))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"leaderboard": entries}})
}

// enrichNames fills Username and Streak for entries built from the cache.
func (h *LeaderboardHandler) enrichNames(entries []LeaderboardEntry) {
	if len(entries) == 0 {
		return
	}
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	var accounts []model.Account
	if err := h.db.Select("id, username, streak").Where("id IN ?", ids).Find(&accounts).Error; err != nil {
		return
	}
	byID := make(map[int64]model.Account, len(accounts))
	for _, acc := range accounts {
		byID[acc.ID] = acc
	}
	for i := range entries {
		if acc, ok := byID[entries[i].UserID]; ok {
			entries[i].Username = acc.Username
			entries[i].Streak = acc.Streak
		}
	}
}

// Rebuild rebuilds the leaderboard sorted set from the DB. Called
// periodically by the scheduler; also exposed as POST /api/admin/leaderboard/refresh.
func (h *LeaderboardHandler) Rebuild(c *gin.Context) {
	n, err := h.RebuildSet(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"refreshed": n}})
}

// RebuildSet refreshes the top-N leaderboard entries from account XP.
func (h *LeaderboardHandler) RebuildSet(ctx context.Context) (int, error) {
	var accounts []model.Account
	if err := h.db.WithContext(ctx).
		Select("id, xp").
		Order("xp DESC").
		Limit(h.top).
		Find(&accounts).Error; err != nil {
		return 0, err
	}
	for _, acc := range accounts {
		if err := h.cache.ZAdd(ctx, reward.LeaderboardKey, float64(acc.XP), strconv.FormatInt(acc.ID, 10)); err != nil {
			h.logger.Warn("leaderboard refresh entry failed", zap.Int64("user_id", acc.ID), zap.Error(err))
		}
	}
	return len(accounts), nil
}
