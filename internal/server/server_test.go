package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"taskflow/backend/internal/config"
	"taskflow/backend/internal/database"
	"taskflow/backend/internal/events"
	"taskflow/backend/internal/middleware"
	"taskflow/backend/internal/models"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            "0",
			ShutdownTimeout: time.Second,
			Environment:     "test",
			AllowedOrigins:  []string{"http://localhost:5173"},
		},
		Database: config.DatabaseConfig{
			URL:          database.MemoryDSN(strings.ReplaceAll(t.Name(), "/", "_")),
			MaxOpenConns: 1,
			MaxIdleConns: 1,
			LogLevel:     "silent",
		},
		Cache: config.CacheConfig{
			Driver:          driver,
			OpTimeout:       time.Second,
			DashboardTTL:    300 * time.Second,
			RecentTasksTTL:  120 * time.Second,
			CategoriesTTL:   600 * time.Second,
			TaskListTTL:     180 * time.Second,
			MemoryCapacity:  1000,
			MemoryShards:    4,
			BreakerFailures: 5,
			BreakerTimeout:  time.Second,
			WarmSchedule:    "@every 5m",
		},
		Broadcast: config.BroadcastConfig{
			Driver:         driver,
			QueueSize:      16,
			Workers:        1,
			PublishTimeout: time.Second,
			Heartbeat:      time.Second,
		},
		Auth: config.AuthConfig{
			JWTSecret:      "test-secret",
			Issuer:         "taskflow",
			AccessTokenTTL: time.Hour,
			BCryptCost:     bcrypt.MinCost,
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, opts Options) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)

	app, err := New(cfg, zap.NewNop(), opts)
	require.NoError(t, err)
	app.pool.Start()
	t.Cleanup(func() { app.Close() })
	return app
}

type client struct {
	t     *testing.T
	h     http.Handler
	token string
}

func (c *client) do(method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	c.h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

// register creates an account and returns a client authenticated as it.
func register(t *testing.T, app *App, email string) (*client, uint) {
	t.Helper()
	c := &client{t: t, h: app.Handler()}
	w := c.do(http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Jane Smith", "email": email, "password": "secret123",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID uint `json:"id"`
		} `json:"user"`
	}
	decode(t, w, &resp)
	require.NotEmpty(t, resp.AccessToken)
	c.token = resp.AccessToken
	return c, resp.User.ID
}

func TestApp_TaskLifecycle(t *testing.T) {
	app := newTestApp(t, testConfig(t, "memory"), Options{})
	c, _ := register(t, app, "jane@example.com")

	w := c.do(http.MethodPost, "/api/tasks", map[string]string{"title": "Write report"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var task struct {
		ID       uint   `json:"id"`
		Status   string `json:"status"`
		Priority string `json:"priority"`
	}
	decode(t, w, &task)
	assert.Equal(t, "pending", task.Status)
	assert.Equal(t, "medium", task.Priority)

	w = c.do(http.MethodGet, "/api/tasks", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Data  []json.RawMessage `json:"data"`
		Total int64             `json:"total"`
	}
	decode(t, w, &page)
	assert.Equal(t, int64(1), page.Total)

	path := "/api/tasks/" + jsonID(task.ID)
	w = c.do(http.MethodPatch, path+"/status", map[string]string{"status": "completed"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Status updated to completed")

	w = c.do(http.MethodGet, "/api/dashboard", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var dash struct {
		Stats struct {
			Total     int64 `json:"total_tasks"`
			Completed int64 `json:"completed_tasks"`
		} `json:"stats"`
		User struct {
			Initials string `json:"initials"`
		} `json:"user"`
	}
	decode(t, w, &dash)
	assert.Equal(t, int64(1), dash.Stats.Total)
	assert.Equal(t, int64(1), dash.Stats.Completed)
	assert.Equal(t, "JS", dash.User.Initials)

	w = c.do(http.MethodDelete, path, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = c.do(http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func jsonID(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestApp_RequiresAuthentication(t *testing.T) {
	app := newTestApp(t, testConfig(t, "memory"), Options{})
	anon := &client{t: t, h: app.Handler()}

	for _, path := range []string{"/api/tasks", "/api/dashboard", "/api/categories", "/api/users/me"} {
		w := anon.do(http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := anon.do(http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestApp_UsersCannotSeeEachOthersTasks(t *testing.T) {
	app := newTestApp(t, testConfig(t, "memory"), Options{})
	alice, _ := register(t, app, "alice@example.com")
	bob, _ := register(t, app, "bob@example.com")

	w := alice.do(http.MethodPost, "/api/tasks", map[string]string{"title": "Private"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var task struct {
		ID uint `json:"id"`
	}
	decode(t, w, &task)

	w = bob.do(http.MethodGet, "/api/tasks/"+jsonID(task.ID), nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = bob.do(http.MethodGet, "/api/tasks", nil, nil)
	assert.Contains(t, w.Body.String(), `"total":0`)
}

func TestApp_PublishesStatusChangesWithSocketID(t *testing.T) {
	app := newTestApp(t, testConfig(t, "memory"), Options{})
	c, userID := register(t, app, "jane@example.com")

	w := c.do(http.MethodPost, "/api/tasks", map[string]string{"title": "Watch me"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var task struct {
		ID uint `json:"id"`
	}
	decode(t, w, &task)

	sub, err := app.broker.Subscribe(context.Background(), events.TaskTopic(userID))
	require.NoError(t, err)
	defer sub.Close()

	w = c.do(http.MethodPatch, "/api/tasks/"+jsonID(task.ID)+"/status",
		map[string]string{"status": "in_progress"},
		map[string]string{middleware.SocketIDHeader: "sock-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The task.created job may still be queued when the subscription opens.
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-sub.Messages():
			if msg.Event != events.TaskStatusChanged {
				continue
			}
			assert.Equal(t, "sock-1", msg.SocketID)
			assert.False(t, msg.DeliverTo("sock-1"))
			return
		case <-timeout:
			t.Fatal("no status event published")
		}
	}
}

func TestApp_WarmerReloadsCategoriesFromDatabase(t *testing.T) {
	app := newTestApp(t, testConfig(t, "memory"), Options{})
	ctx := context.Background()

	cached, err := app.Categories.List(ctx)
	require.NoError(t, err)
	require.Empty(t, cached)

	require.NoError(t, app.db.DB.Create(&models.Category{
		Name: "Errands", Slug: "errands", Color: models.DefaultCategoryColor,
	}).Error)

	stale, err := app.Categories.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale, "direct inserts bypass invalidation")

	assert.Equal(t, 1, app.warmer.WarmNow(ctx))

	fresh, err := app.Categories.List(ctx)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "errands", fresh[0].Slug)
}

func TestApp_RedisDrivers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	app := newTestApp(t, testConfig(t, "redis"), Options{Redis: rdb})
	c, userID := register(t, app, "jane@example.com")

	w := c.do(http.MethodGet, "/api/dashboard", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, mr.Exists("dashboard_stats:"+jsonID(userID)))
	assert.True(t, mr.Exists("all_categories"))

	w = c.do(http.MethodPost, "/api/tasks", map[string]string{"title": "Invalidate"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.False(t, mr.Exists("dashboard_stats:"+jsonID(userID)))
	assert.False(t, mr.Exists("all_categories"))

	w = c.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"redis"`)
}

func TestApp_MetricsEndpoint(t *testing.T) {
	app := newTestApp(t, testConfig(t, "memory"), Options{})
	anon := &client{t: t, h: app.Handler()}

	anon.do(http.MethodGet, "/health/live", nil, nil)
	w := anon.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "taskflow_http_requests_total")
}

func TestApp_RateLimit(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, BurstSize: 2, CleanupInterval: time.Minute}
	app := newTestApp(t, cfg, Options{})
	anon := &client{t: t, h: app.Handler()}

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, anon.do(http.MethodGet, "/api/tasks", nil, nil).Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, gormLogLevel("warn"), gormLogLevel("bogus"))
	assert.NotEqual(t, gormLogLevel("info"), gormLogLevel("silent"))
}
