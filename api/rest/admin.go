package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lingoleap/server/audit"
	mw "github.com/lingoleap/server/middleware"
	"github.com/lingoleap/server/model"
	"github.com/lingoleap/server/scheduler"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	sched  *scheduler.Scheduler
	audit  *audit.Service
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler. The audit service may be nil, in
// which case admin actions are logged but not persisted to the audit trail.
func NewAdminHandler(db *gorm.DB, sched *scheduler.Scheduler, auditSvc *audit.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, sched: sched, audit: auditSvc, logger: logger}
}

// recordAction persists one admin mutation to the audit trail.
func (h *AdminHandler) recordAction(c *gin.Context, action string, request, response interface{}) {
	if h.audit == nil {
		return
	}
	h.audit.Log(audit.AuditEntry{
		TraceID:  mw.GetTraceID(c),
		Username: "admin",
		Action:   action,
		Request:  request,
		Response: response,
		IP:       c.ClientIP(),
	})
}

// Metrics returns platform health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	var users, activeQuests, pendingTx int64
	h.db.Model(&model.Account{}).Count(&users)
	h.db.Model(&model.UserQuestProgress{}).
		Where("status IN ?", []string{model.QuestStatusAssigned, model.QuestStatusInProgress}).
		Count(&activeQuests)
	h.db.Model(&model.PaymentTransaction{}).
		Where("status = ?", model.TxPending).
		Count(&pendingTx)

	c.JSON(http.StatusOK, gin.H{
		"users":                users,
		"active_quests":        activeQuests,
		"pending_transactions": pendingTx,
		"scheduler_tasks":      h.sched.ListTickers(),
	})
}

type questDefinitionRequest struct {
	Title       string                 `json:"title" binding:"required,max=128"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	Difficulty  string                 `json:"difficulty"`
	QuestType   string                 `json:"quest_type"`
	Visible     *bool                  `json:"visible"`
	Active      *bool                  `json:"active"`
	Priority    int                    `json:"priority"`
	StartAt     *time.Time             `json:"start_at"`
	EndAt       *time.Time             `json:"end_at"`
	Conditions  []model.QuestCondition `json:"conditions" binding:"required,min=1"`
	Rewards     []model.QuestReward    `json:"rewards" binding:"required,min=1"`
}

func (r *questDefinitionRequest) apply(def *model.QuestDefinition) error {
	def.Title = r.Title
	def.Description = r.Description
	if r.Category != "" {
		def.Category = r.Category
	}
	if r.Difficulty != "" {
		def.Difficulty = r.Difficulty
	}
	if r.QuestType != "" {
		def.QuestType = r.QuestType
	}
	if r.Visible != nil {
		def.Visible = *r.Visible
	}
	if r.Active != nil {
		def.Active = *r.Active
	}
	def.Priority = r.Priority
	def.StartAt = r.StartAt
	def.EndAt = r.EndAt

	condJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return err
	}
	rewardJSON, err := json.Marshal(r.Rewards)
	if err != nil {
		return err
	}
	def.Conditions = datatypes.JSON(condJSON)
	def.Rewards = datatypes.JSON(rewardJSON)
	return nil
}

// ListQuests returns all quest definitions including inactive ones.
// GET /api/admin/quests
func (h *AdminHandler) ListQuests(c *gin.Context) {
	var defs []model.QuestDefinition
	if err := h.db.Order("priority DESC, created_at DESC").Find(&defs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quests": defs, "count": len(defs)})
}

// CreateQuest creates a quest definition.
// POST /api/admin/quests
func (h *AdminHandler) CreateQuest(c *gin.Context) {
	var req questDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	def := model.QuestDefinition{Category: model.QuestCategoryLearning,
		Difficulty: model.QuestDifficultyEasy, QuestType: model.QuestTypeDaily,
		Visible: true, Active: true}
	if err := req.apply(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.db.Create(&def).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	h.logger.Info("quest definition created", zap.Int64("quest_id", def.ID), zap.String("title", def.Title))
	h.recordAction(c, "quest_created", req, gin.H{"quest_id": def.ID})
	c.JSON(http.StatusCreated, gin.H{"quest": def})
}

// UpdateQuest updates a quest definition.
// PUT /api/admin/quests/:id
func (h *AdminHandler) UpdateQuest(c *gin.Context) {
	questID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req questDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var def model.QuestDefinition
	if err := h.db.First(&def, questID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "quest not found"})
		return
	}
	if err := req.apply(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.db.Save(&def).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	h.recordAction(c, "quest_updated", req, gin.H{"quest_id": def.ID})
	c.JSON(http.StatusOK, gin.H{"quest": def})
}

// DeactivateQuest retires a quest definition without deleting user progress.
// POST /api/admin/quests/:id/deactivate
func (h *AdminHandler) DeactivateQuest(c *gin.Context) {
	questID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	result := h.db.Model(&model.QuestDefinition{}).
		Where("id = ?", questID).
		Update("active", false)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "quest not found"})
		return
	}
	h.logger.Info("quest definition deactivated", zap.Int64("quest_id", questID))
	h.recordAction(c, "quest_deactivated", gin.H{"quest_id": questID}, nil)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// BanAccount bans or unbans an account.
// POST /api/admin/accounts/:id/ban
func (h *AdminHandler) BanAccount(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	status := 1
	if req.Ban {
		status = 0
	}
	result := h.db.Model(&model.Account{}).Where("id = ?", accountID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	h.recordAction(c, "account_ban_set", gin.H{"account_id": accountID, "ban": req.Ban}, nil)
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

// RunSchedulerTask triggers a registered maintenance task immediately.
// POST /api/admin/scheduler/:name/run
func (h *AdminHandler) RunSchedulerTask(c *gin.Context) {
	name := c.Param("name")
	if err := h.sched.RunNow(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	h.logger.Info("scheduler task triggered", zap.String("task", name))
	h.recordAction(c, "scheduler_task_run", gin.H{"task": name}, nil)
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": name})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
