package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/lingoleap/server/api/rest"
	"github.com/lingoleap/server/api/sse"
	"github.com/lingoleap/server/billing"
	"github.com/lingoleap/server/cache"
	"github.com/lingoleap/server/config"
	"github.com/lingoleap/server/gamify/quest"
	"github.com/lingoleap/server/gamify/reward"
	mw "github.com/lingoleap/server/middleware"
	"github.com/lingoleap/server/model"
	"github.com/lingoleap/server/scheduler"
	"github.com/lingoleap/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const testAdminKey = "integration-admin-key"

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB      *gorm.DB
	Cache   cache.Cache
	PubSub  cache.PubSub
	Billing *billing.Service
	Server  *httptest.Server
	URL     string // http://127.0.0.1:<port>
	Sec     config.SecurityConfig
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
	}

	// ---- Services ----
	questSvc := quest.NewService(db, logger)
	rewardSvc := reward.NewService(db, c, pubsub, 5, logger)
	billingSvc := billing.NewService(db, 30*time.Minute, logger)

	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes (mirrors main.go) ----
	authH := apirest.NewAuthHandler(db, c, sec)
	questH := apirest.NewQuestHandler(questSvc, rewardSvc, logger)
	rewardH := apirest.NewRewardHandler(rewardSvc, logger)
	subH := apirest.NewSubscriptionHandler(billingSvc, logger)
	boardH := apirest.NewLeaderboardHandler(db, c, 100, logger)
	adminH := apirest.NewAdminHandler(db, sched, nil, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(sec, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(sec, c), authH.Refresh)

		usersG := api.Group("/users")
		usersG.Use(mw.Auth(sec, c))
		usersG.GET("/:id/quests", questH.List)
		usersG.PUT("/:id/quests", questH.Update)
		usersG.POST("/:id/subscriptions", subH.Create)
		usersG.PUT("/:id/subscriptions", subH.Update)
		usersG.GET("/:id/subscriptions", subH.List)

		rewardsG := api.Group("/rewards")
		rewardsG.Use(mw.Auth(sec, c))
		rewardsG.POST("", rewardH.Add)
		rewardsG.GET("", rewardH.History)

		boardG := api.Group("/leaderboard")
		boardG.GET("/xp", boardH.TopXP)

		adminG := api.Group("/admin")
		adminG.Use(apirest.AdminAuth(testAdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/quests", adminH.ListQuests)
		adminG.POST("/quests", adminH.CreateQuest)
		adminG.PUT("/quests/:id", adminH.UpdateQuest)
		adminG.POST("/quests/:id/deactivate", adminH.DeactivateQuest)
		adminG.POST("/accounts/:id/ban", adminH.BanAccount)
		adminG.POST("/leaderboard/refresh", boardH.Rebuild)
	}

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, sec, logger)
	r.GET("/sse", sseH.ServeSSE)

	server := httptest.NewServer(r)

	return &TestServer{
		DB:      db,
		Cache:   c,
		PubSub:  pubsub,
		Billing: billingSvc,
		Server:  server,
		URL:     server.URL,
		Sec:     sec,
	}
}

// Close shuts down the test server.
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// PostJSON sends a POST with a JSON body. Pass token="" for unauthenticated.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.doJSON(t, http.MethodPost, path, body, token)
}

// Put sends a PUT with a JSON body.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.doJSON(t, http.MethodPut, path, body, token)
}

// Get sends a GET.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.doJSON(t, http.MethodGet, path, nil, token)
}

func (ts *TestServer) doJSON(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// AdminPost sends a POST carrying the admin key header.
func (ts *TestServer) AdminPost(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", testAdminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// ReadJSON decodes a response body into target and closes the body.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

// Login authenticates (auto-registering on first use) and returns the token
// and account ID.
func (ts *TestServer) Login(t *testing.T, username, password string) (token string, userID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Token  string `json:"token"`
		UserID int64  `json:"user_id"`
	}
	ReadJSON(t, resp, &result)
	require.NotEmpty(t, result.Token)
	return result.Token, result.UserID
}

// SeedQuest inserts an active daily quest definition straight into the DB.
func (ts *TestServer) SeedQuest(t *testing.T, title string, conds []model.QuestCondition, rewards []model.QuestReward) *model.QuestDefinition {
	t.Helper()
	condJSON, err := json.Marshal(conds)
	require.NoError(t, err)
	rewardJSON, err := json.Marshal(rewards)
	require.NoError(t, err)
	def := &model.QuestDefinition{
		Title:      title,
		Category:   model.QuestCategoryLearning,
		Difficulty: model.QuestDifficultyEasy,
		QuestType:  model.QuestTypeDaily,
		Active:     true,
		Visible:    true,
		Conditions: datatypes.JSON(condJSON),
		Rewards:    datatypes.JSON(rewardJSON),
	}
	require.NoError(t, ts.DB.Create(def).Error)
	return def
}

var uniqueCounter atomic.Int64

// UniqueID returns a process-unique identifier with the given prefix, so
// parallel tests never collide on usernames.
func UniqueID(prefix string) string {
	n := uniqueCounter.Add(1)
	return prefix + "_" + time.Now().Format("150405") + "_" + strconv.FormatInt(n, 10)
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}
