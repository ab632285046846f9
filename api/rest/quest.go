package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lingoleap/server/gamify/quest"
	"github.com/lingoleap/server/gamify/reward"
	mw "github.com/lingoleap/server/middleware"
	"github.com/lingoleap/server/model"
	"go.uber.org/zap"
)

// QuestHandler handles the per-user quest endpoints. Progress reporting and
// reward settlement run through one PUT so clients cannot observe a
// completed-but-unsettled quest.
type QuestHandler struct {
	quests  *quest.Service
	rewards *reward.Service
	logger  *zap.Logger
}

// NewQuestHandler creates a QuestHandler.
func NewQuestHandler(q *quest.Service, r *reward.Service, logger *zap.Logger) *QuestHandler {
	return &QuestHandler{quests: q, rewards: r, logger: logger}
}

// pathUserID parses the :id path parameter and enforces that it matches the
// authenticated account. A mismatch reads as not-found rather than forbidden
// so the route does not leak which user IDs exist.
func pathUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid user id"})
		return 0, false
	}
	accountID := mw.GetAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
		return 0, false
	}
	if accountID != id {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "user not found"})
		return 0, false
	}
	return id, true
}

// List handles GET /api/users/:id/quests.
// Optional filters: ?type=daily&category=learning&difficulty=easy.
func (h *QuestHandler) List(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	defs, progressByQuest, err := h.quests.ListForUser(c.Request.Context(), userID,
		c.Query("type"), c.Query("category"), c.Query("difficulty"))
	if err != nil {
		h.logger.Error("quest list failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
		return
	}

	now := time.Now()
	views := make([]*quest.QuestView, 0, len(defs))
	for i := range defs {
		view, err := quest.Project(&defs[i], progressByQuest[defs[i].ID], now)
		if err != nil {
			h.logger.Warn("quest projection skipped",
				zap.Int64("quest_id", defs[i].ID), zap.Error(err))
			continue
		}
		views = append(views, view)
	}

	stats, err := h.quests.StatsForUser(c.Request.Context(), userID, len(defs))
	if err != nil {
		if errors.Is(err, quest.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"quests": views,
			"stats":  stats,
		},
	})
}

type updateQuestRequest struct {
	ConditionType  string `json:"condition_type" binding:"required"`
	IncrementValue int    `json:"increment_value"`
}

// Update handles PUT /api/users/:id/quests.
// Assigns a quest for the condition type when the user has none, applies the
// increment, and settles rewards when the increment completed the quest.
func (h *QuestHandler) Update(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	var req updateQuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if req.IncrementValue == 0 {
		req.IncrementValue = 1
	}
	if req.IncrementValue < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "increment_value must be positive"})
		return
	}

	ctx := c.Request.Context()

	progress, wasNewlyAssigned, err := h.quests.Assign(ctx, userID, req.ConditionType)
	if err != nil {
		switch {
		case errors.Is(err, quest.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "user not found"})
		case errors.Is(err, quest.ErrNoActiveQuests), errors.Is(err, quest.ErrNoEligibleQuest):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "no eligible quest for condition"})
		default:
			h.logger.Error("quest assign failed", zap.Int64("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
		}
		return
	}

	updated, completedNow, err := h.quests.IncrementProgress(ctx, userID, progress.QuestID,
		req.ConditionType, req.IncrementValue)
	if err != nil {
		if errors.Is(err, quest.ErrInvalidIncrement) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "increment_value must be positive"})
			return
		}
		h.logger.Error("quest progress failed",
			zap.Int64("user_id", userID), zap.Int64("quest_id", progress.QuestID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
		return
	}

	var claims []model.ClaimedReward
	if completedNow {
		result, err := h.rewards.Claim(ctx, userID, updated.ID)
		if err != nil {
			h.logger.Error("reward settlement failed",
				zap.Int64("user_id", userID), zap.Int64("user_quest_id", updated.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
			return
		}
		// nil result means a concurrent request settled first; that
		// request reported the rewards.
		if result != nil {
			claims = result.Claims
		} else {
			completedNow = false
		}
	}

	message := "quest progress updated"
	if completedNow {
		message = "quest completed"
	} else if wasNewlyAssigned {
		message = "quest assigned"
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"user_quest":         updated,
			"claimed_rewards":    claims,
			"was_completed":      completedNow,
			"was_newly_assigned": wasNewlyAssigned,
		},
		"message": message,
	})
}
