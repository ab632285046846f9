package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lingoleap/server/gamify/reward"
	mw "github.com/lingoleap/server/middleware"
	"go.uber.org/zap"
)

// RewardHandler handles the reward-history ledger endpoints.
type RewardHandler struct {
	rewards *reward.Service
	logger  *zap.Logger
}

// NewRewardHandler creates a RewardHandler.
func NewRewardHandler(r *reward.Service, logger *zap.Logger) *RewardHandler {
	return &RewardHandler{rewards: r, logger: logger}
}

type addRewardRequest struct {
	Type     string `json:"type" binding:"required"`
	Amount   int    `json:"amount" binding:"required,gt=0"`
	Reason   string `json:"reason"`
	LessonID string `json:"lesson_id"`
}

// Add handles POST /api/rewards.
// Appends a ledger entry for the authenticated user and applies the amount
// to the matching account counter.
func (h *RewardHandler) Add(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
		return
	}

	var req addRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	ev, err := h.rewards.Record(c.Request.Context(), accountID, req.Type, req.Amount, req.Reason, req.LessonID)
	if err != nil {
		switch {
		case errors.Is(err, reward.ErrInvalidType):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid reward type"})
		case errors.Is(err, reward.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "user not found"})
		default:
			h.logger.Error("reward record failed", zap.Int64("user_id", accountID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    gin.H{"reward": ev},
		"message": "reward recorded",
	})
}

// History handles GET /api/rewards?limit=50.
// Returns the authenticated user's ledger entries, newest first.
func (h *RewardHandler) History(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.rewards.History(c.Request.Context(), accountID, limit)
	if err != nil {
		h.logger.Error("reward history failed", zap.Int64("user_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"rewards": events},
	})
}
