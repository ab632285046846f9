package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/lingoleap/server/api/rest"
	"github.com/lingoleap/server/api/sse"
	"github.com/lingoleap/server/audit"
	"github.com/lingoleap/server/billing"
	"github.com/lingoleap/server/cache"
	"github.com/lingoleap/server/catalog"
	"github.com/lingoleap/server/config"
	dbadapter "github.com/lingoleap/server/db"
	"github.com/lingoleap/server/gamify/quest"
	"github.com/lingoleap/server/gamify/reward"
	mw "github.com/lingoleap/server/middleware"
	"github.com/lingoleap/server/model"
	"github.com/lingoleap/server/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Quest catalog seed ----
	if n, err := catalog.NewLoader(cfg.Quest.SeedDir, db, logger).Load(); err != nil {
		logger.Warn("quest seed load warning", zap.Error(err))
	} else if n > 0 {
		logger.Info("quest definitions seeded", zap.Int("inserted", n))
	}

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Services ----
	questSvc := quest.NewService(db, logger)
	rewardSvc := reward.NewService(db, c, pubsub, cfg.Quest.MaxHearts, logger)
	billingSvc := billing.NewService(db, cfg.Billing.PendingWindow, logger)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	questH := apirest.NewQuestHandler(questSvc, rewardSvc, logger)
	rewardH := apirest.NewRewardHandler(rewardSvc, logger)
	subH := apirest.NewSubscriptionHandler(billingSvc, logger)
	boardH := apirest.NewLeaderboardHandler(db, c, cfg.Quest.LeaderboardTop, logger)
	adminH := apirest.NewAdminHandler(db, sched, auditSvc, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		usersG := api.Group("/users")
		usersG.Use(mw.Auth(cfg.Security, c))
		usersG.GET("/:id/quests", questH.List)
		usersG.PUT("/:id/quests", questH.Update)
		usersG.POST("/:id/subscriptions", subH.Create)
		usersG.PUT("/:id/subscriptions", subH.Update)
		usersG.GET("/:id/subscriptions", subH.List)

		rewardsG := api.Group("/rewards")
		rewardsG.Use(mw.Auth(cfg.Security, c))
		rewardsG.POST("", rewardH.Add)
		rewardsG.GET("", rewardH.History)

		boardG := api.Group("/leaderboard")
		boardG.GET("/xp", boardH.TopXP)

		adminG := api.Group("/admin")
		if len(cfg.Security.AdminIPAllowlist) > 0 {
			adminG.Use(mw.IPWhitelist(cfg.Security.AdminIPAllowlist))
		}
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/quests", adminH.ListQuests)
		adminG.POST("/quests", adminH.CreateQuest)
		adminG.PUT("/quests/:id", adminH.UpdateQuest)
		adminG.POST("/quests/:id/deactivate", adminH.DeactivateQuest)
		adminG.POST("/accounts/:id/ban", adminH.BanAccount)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.POST("/scheduler/:name/run", adminH.RunSchedulerTask)
		adminG.POST("/leaderboard/refresh", boardH.Rebuild)
	}

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	// ---- Periodic Scheduler Tasks ----
	sched.AddTicker("expire_stale_transactions", time.Hour, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if n, err := billingSvc.ExpireStalePending(ctx); err != nil {
			logger.Error("stale transaction sweep failed", zap.Error(err))
		} else if n > 0 {
			auditSvc.Log(audit.AuditEntry{
				Action:   "stale_transactions_cancelled",
				Response: map[string]int64{"count": n},
			})
		}
	})
	sched.AddTicker("leaderboard_refresh", 10*time.Minute, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := boardH.RebuildSet(ctx); err != nil {
			logger.Error("leaderboard refresh failed", zap.Error(err))
		}
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
