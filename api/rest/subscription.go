package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lingoleap/server/billing"
	"github.com/lingoleap/server/model"
	"go.uber.org/zap"
)

// SubscriptionHandler handles the subscription-transaction endpoints.
type SubscriptionHandler struct {
	billing *billing.Service
	logger  *zap.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(b *billing.Service, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{billing: b, logger: logger}
}

type createSubscriptionRequest struct {
	PlanID       string `json:"plan_id" binding:"required"`
	Amount       int64  `json:"amount" binding:"required,gt=0"`
	Currency     string `json:"currency"`
	Provider     string `json:"provider"`
	BillingCycle string `json:"billing_cycle"`
	Description  string `json:"description"`
	SessionID    string `json:"session_id"`
}

// Create handles POST /api/users/:id/subscriptions.
// Creates a pending transaction; repeated checkouts for the same plan reuse
// the pending transaction instead of stacking duplicates.
func (h *SubscriptionHandler) Create(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	tx, isExisting, err := h.billing.CreateTransaction(c.Request.Context(), billing.CreateInput{
		UserID:       userID,
		PlanID:       req.PlanID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Provider:     req.Provider,
		BillingCycle: req.BillingCycle,
		Description:  req.Description,
		SessionID:    req.SessionID,
	})
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "user not found"})
			return
		}
		h.logger.Error("transaction create failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
		return
	}

	status := http.StatusCreated
	message := "transaction created"
	if isExisting {
		status = http.StatusOK
		message = "pending transaction reused"
	}
	c.JSON(status, gin.H{
		"success": true,
		"data": gin.H{
			"transaction": tx,
			"is_existing": isExisting,
		},
		"message": message,
	})
}

type updateSubscriptionRequest struct {
	TransactionID string                 `json:"transaction_id"`
	SessionID     string                 `json:"session_id"`
	Status        string                 `json:"status" binding:"required"`
	ProviderData  map[string]interface{} `json:"provider_data"`
}

// Update handles PUT /api/users/:id/subscriptions.
// Transitions a pending transaction to a terminal status; completing it
// activates the subscription.
func (h *SubscriptionHandler) Update(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	var req updateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	ref := req.TransactionID
	if ref == "" {
		ref = req.SessionID
	}
	if ref == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "transaction_id or session_id required"})
		return
	}
	if !billing.ValidTargetStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid status"})
		return
	}

	// Ownership never changes after creation.
	existing, err := h.billing.GetTransaction(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, billing.ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "transaction not found"})
			return
		}
		h.logger.Error("transaction lookup failed", zap.String("ref", ref), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
		return
	}
	if existing.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "transaction not found"})
		return
	}

	tx, err := h.billing.UpdateTransaction(c.Request.Context(), ref, req.Status, req.ProviderData)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidStatus):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid status"})
		case errors.Is(err, billing.ErrTransactionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "transaction not found"})
		case errors.Is(err, billing.ErrAlreadyProcessed):
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "transaction already processed"})
		default:
			h.logger.Error("transaction update failed", zap.String("ref", ref), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"transaction": tx},
		"message": "transaction updated",
	})
}

// List handles GET /api/users/:id/subscriptions?status=&limit=&page=.
func (h *SubscriptionHandler) List(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	status := c.Query("status")
	switch status {
	case "", model.TxPending, model.TxCompleted, model.TxFailed, model.TxCancelled, model.TxRefunded:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid status filter"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	page, _ := strconv.Atoi(c.Query("page"))

	txs, total, err := h.billing.ListTransactions(c.Request.Context(), userID, status, limit, page)
	if err != nil {
		h.logger.Error("transaction list failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"transactions": txs,
			"total":        total,
		},
	})
}
