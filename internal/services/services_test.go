package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taskflow/backend/internal/cache"
	"taskflow/backend/internal/database"
	"taskflow/backend/internal/events"
	"taskflow/backend/internal/models"
)

type published struct {
	topic string
	msg   events.Message
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, msg events.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, published{topic: topic, msg: msg})
	return nil
}

func (r *recordingPublisher) events(name string) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, p := range r.messages {
		if p.msg.Event == name {
			out = append(out, p)
		}
	}
	return out
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, string, events.Message) error { return f.err }

type brokenCache struct{ err error }

func (b brokenCache) Get(context.Context, string, interface{}) error { return b.err }
func (b brokenCache) Set(context.Context, string, interface{}, time.Duration) error {
	return b.err
}
func (b brokenCache) Delete(context.Context, ...string) error { return b.err }
func (b brokenCache) Health(context.Context) error            { return b.err }
func (b brokenCache) Close() error                            { return nil }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type ServicesTestSuite struct {
	suite.Suite

	db        *gorm.DB
	pool      *database.DatabasePool
	cache     *cache.MemoryCache
	publisher *recordingPublisher
	clock     *testClock

	tasks      *TaskService
	dashboard  *DashboardService
	categories *CategoryService
	auth       *AuthService
	users      *UserService

	owner    *models.User
	intruder *models.User
	work     *models.Category
}

func TestServicesSuite(t *testing.T) {
	suite.Run(t, new(ServicesTestSuite))
}

func (s *ServicesTestSuite) SetupTest() {
	config := database.DefaultPoolConfig()
	config.DSN = database.MemoryDSN(strings.ReplaceAll(s.T().Name(), "/", "_"))
	config.LogLevel = logger.Silent

	pool, err := database.NewDatabasePool(config)
	s.Require().NoError(err)
	s.Require().NoError(pool.Migrate())
	s.pool = pool
	s.db = pool.DB

	s.clock = &testClock{now: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)}
	memory, err := cache.NewMemoryCache(cache.DefaultMemoryConfig())
	s.Require().NoError(err)
	s.cache = memory.WithClock(s.clock.Now)
	s.publisher = &recordingPublisher{}

	log := zap.NewNop()
	ttl := DefaultCacheTTLs()
	s.tasks = NewTaskService(s.db, s.cache, s.publisher, log, ttl).WithClock(s.clock.Now)
	s.dashboard = NewDashboardService(s.db, s.cache, log, ttl).WithClock(s.clock.Now)
	s.categories = NewCategoryService(s.db, s.cache, log, ttl)
	s.auth = NewAuthService(s.db, AuthOptions{Secret: "test-secret", BCryptCost: bcrypt.MinCost}).WithClock(s.clock.Now)
	s.users = NewUserService(s.db, s.auth, s.cache, log)

	ctx := context.Background()
	s.owner, err = s.auth.Register(ctx, RegistrationRequest{Name: "Olivia Owner", Email: "owner@example.com", Password: "secret1"})
	s.Require().NoError(err)
	s.intruder, err = s.auth.Register(ctx, RegistrationRequest{Name: "Ivan Intruder", Email: "intruder@example.com", Password: "secret2"})
	s.Require().NoError(err)
	s.work, err = s.categories.Create(ctx, CategoryInput{Name: "Work"})
	s.Require().NoError(err)
}

func (s *ServicesTestSuite) TearDownTest() {
	s.pool.Close()
}

func (s *ServicesTestSuite) createTask(title string) *models.Task {
	task, err := s.tasks.Create(context.Background(), s.owner, TaskInput{Title: title, CategoryID: &s.work.ID})
	s.Require().NoError(err)
	return task
}

func (s *ServicesTestSuite) TestCreate_DefaultsAndRelations() {
	task := s.createTask("Write report")

	s.Equal(models.PriorityMedium, task.Priority)
	s.Equal(models.StatusPending, task.Status)
	s.Nil(task.CompletedAt)
	s.Require().NotNil(task.Category)
	s.Equal("Work", task.Category.Name)
	s.Require().NotNil(task.User)
	s.Equal(s.owner.ID, task.User.ID)
}

func (s *ServicesTestSuite) TestCreate_PublishesTaskCreated() {
	ctx := events.WithSocketID(context.Background(), "socket-1")
	task, err := s.tasks.Create(ctx, s.owner, TaskInput{Title: "Ping", Priority: models.PriorityHigh})
	s.Require().NoError(err)

	created := s.publisher.events(events.TaskCreated)
	s.Require().Len(created, 1)
	s.Equal(events.TaskTopic(s.owner.ID), created[0].topic)
	s.Equal("socket-1", created[0].msg.SocketID)

	var payload events.TaskCreatedPayload
	s.Require().NoError(json.Unmarshal(created[0].msg.Data, &payload))
	s.Equal(task.ID, payload.ID)
	s.Equal("Ping", payload.Title)
	s.Equal(models.PriorityHigh, payload.Priority)
	s.Nil(payload.Category)
	s.Equal("Olivia Owner", payload.UserName)
	s.NotEmpty(payload.CreatedAt)
}

func (s *ServicesTestSuite) TestCreate_Validation() {
	ctx := context.Background()
	missing := uint(999)
	yesterday := s.clock.Now().AddDate(0, 0, -1).Format(models.DateLayout)

	_, err := s.tasks.Create(ctx, s.owner, TaskInput{
		Title:      strings.Repeat("x", 256),
		Priority:   "whenever",
		CategoryID: &missing,
		DueDate:    yesterday,
	})
	var verr *ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Contains(verr.Fields, "title")
	s.Contains(verr.Fields, "priority")
	s.Contains(verr.Fields, "category_id")
	s.Contains(verr.Fields, "due_date")

	_, err = s.tasks.Create(ctx, s.owner, TaskInput{})
	s.Require().ErrorAs(err, &verr)
	s.Contains(verr.Fields, "title")

	_, err = s.tasks.Create(ctx, s.owner, TaskInput{Title: "ok", DueDate: "10/03/2026"})
	s.Require().ErrorAs(err, &verr)
	s.Contains(verr.Fields, "due_date")

	today := s.clock.Now().Format(models.DateLayout)
	task, err := s.tasks.Create(ctx, s.owner, TaskInput{Title: "due today", DueDate: today})
	s.Require().NoError(err)
	s.Require().NotNil(task.DueDate)
	s.Equal(today, task.DueDate.Format(models.DateLayout))

	s.Len(s.publisher.events(events.TaskCreated), 1)
}

func (s *ServicesTestSuite) TestCreate_InvalidatesCachedReads() {
	ctx := context.Background()

	stats, err := s.dashboard.Stats(ctx, s.owner)
	s.Require().NoError(err)
	s.Zero(stats.TotalTasks)
	categories, err := s.categories.List(ctx)
	s.Require().NoError(err)
	s.Zero(categories[0].TasksCount)

	s.createTask("Count me")

	stats, err = s.dashboard.Stats(ctx, s.owner)
	s.Require().NoError(err)
	s.Equal(int64(1), stats.TotalTasks)
	categories, err = s.categories.List(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), categories[0].TasksCount)

	recent, err := s.dashboard.Recent(ctx, s.owner)
	s.Require().NoError(err)
	s.Len(recent, 1)
}

func (s *ServicesTestSuite) TestCreateThenList() {
	ctx := context.Background()
	first := s.createTask("First")
	s.clock.Advance(time.Second)

	// A fresh filter key: nothing cached for it yet.
	page, err := s.tasks.List(ctx, s.owner, models.TaskFilter{Sort: "title", Direction: "asc"})
	s.Require().NoError(err)
	s.Require().Len(page.Tasks, 1)
	s.Equal(first.ID, page.Tasks[0].ID)
	s.Equal(int64(1), page.Total)
	s.Equal(1, page.LastPage)
	s.Equal(models.TasksPerPage, page.PerPage)
}

func (s *ServicesTestSuite) TestList_CachedUntilTTL() {
	ctx := context.Background()
	s.createTask("One")

	page, err := s.tasks.List(ctx, s.owner, models.TaskFilter{})
	s.Require().NoError(err)
	s.Equal(int64(1), page.Total)

	s.createTask("Two")
	page, err = s.tasks.List(ctx, s.owner, models.TaskFilter{Direction: "DESC"})
	s.Require().NoError(err)
	s.Equal(int64(1), page.Total, "equivalent filter should hit the cached page")

	s.clock.Advance(DefaultCacheTTLs().TaskList)
	page, err = s.tasks.List(ctx, s.owner, models.TaskFilter{})
	s.Require().NoError(err)
	s.Equal(int64(2), page.Total)
}

func (s *ServicesTestSuite) TestList_IsolatedPerUser() {
	ctx := context.Background()
	s.createTask("Mine")

	page, err := s.tasks.List(ctx, s.intruder, models.TaskFilter{})
	s.Require().NoError(err)
	s.Zero(page.Total)
	s.NotNil(page.Tasks)
}

func (s *ServicesTestSuite) TestUpdate_CrossUserForbidden() {
	ctx := context.Background()
	task := s.createTask("Private")

	_, err := s.tasks.Update(ctx, s.intruder, task.ID, TaskInput{Title: "Hijacked"})
	s.ErrorIs(err, ErrForbidden)
	_, err = s.tasks.UpdateStatus(ctx, s.intruder, task.ID, models.StatusCompleted)
	s.ErrorIs(err, ErrForbidden)
	s.ErrorIs(s.tasks.Destroy(ctx, s.intruder, task.ID), ErrForbidden)
	_, err = s.tasks.Get(ctx, s.intruder, task.ID)
	s.ErrorIs(err, ErrForbidden)

	reloaded, err := s.tasks.Get(ctx, s.owner, task.ID)
	s.Require().NoError(err)
	s.Equal("Private", reloaded.Title)
	s.Equal(models.StatusPending, reloaded.Status)
	s.Empty(s.publisher.events(events.TaskStatusChanged))
}

func (s *ServicesTestSuite) TestNotFound() {
	ctx := context.Background()
	_, err := s.tasks.Get(ctx, s.owner, 12345)
	s.ErrorIs(err, ErrNotFound)
	s.ErrorIs(s.tasks.Destroy(ctx, s.owner, 12345), ErrNotFound)
	_, err = s.categories.Update(ctx, 12345, CategoryInput{Name: "x"})
	s.ErrorIs(err, ErrNotFound)
}

func (s *ServicesTestSuite) TestUpdateStatus_PublishesOnlyOnChange() {
	ctx := context.Background()
	task := s.createTask("Finish me")

	updated, err := s.tasks.UpdateStatus(ctx, s.owner, task.ID, models.StatusCompleted)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, updated.Status)
	s.Require().NotNil(updated.CompletedAt)

	changed := s.publisher.events(events.TaskStatusChanged)
	s.Require().Len(changed, 1)
	var payload events.TaskStatusChangedPayload
	s.Require().NoError(json.Unmarshal(changed[0].msg.Data, &payload))
	s.Equal(models.StatusPending, payload.OldStatus)
	s.Equal(models.StatusCompleted, payload.NewStatus)

	completedAt := *updated.CompletedAt
	s.clock.Advance(time.Hour)
	again, err := s.tasks.UpdateStatus(ctx, s.owner, task.ID, models.StatusCompleted)
	s.Require().NoError(err)
	s.Len(s.publisher.events(events.TaskStatusChanged), 1)
	s.Require().NotNil(again.CompletedAt)
	s.True(completedAt.Equal(*again.CompletedAt), "completed_at is kept while staying completed")

	reopened, err := s.tasks.UpdateStatus(ctx, s.owner, task.ID, models.StatusInProgress)
	s.Require().NoError(err)
	s.Nil(reopened.CompletedAt)
	s.Len(s.publisher.events(events.TaskStatusChanged), 2)

	_, err = s.tasks.UpdateStatus(ctx, s.owner, task.ID, "archived")
	var verr *ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Contains(verr.Fields, "status")
}

func (s *ServicesTestSuite) TestUpdate_FieldsAndStatus() {
	ctx := context.Background()
	task := s.createTask("Draft")
	past := s.clock.Now().AddDate(0, 0, -3).Format(models.DateLayout)

	updated, err := s.tasks.Update(ctx, s.owner, task.ID, TaskInput{
		Title:       "Final",
		Description: "done",
		Priority:    models.PriorityUrgent,
		Status:      models.StatusPending,
		DueDate:     past,
	})
	s.Require().NoError(err)
	s.Equal("Final", updated.Title)
	s.Equal(models.PriorityUrgent, updated.Priority)
	s.Equal(models.StatusPending, updated.Status)
	s.Nil(updated.CategoryID)
	s.Nil(updated.Category)
	s.True(updated.IsOverdue(s.clock.Now()))
	s.Empty(s.publisher.events(events.TaskStatusChanged))

	stats, err := s.dashboard.Stats(ctx, s.owner)
	s.Require().NoError(err)
	s.Equal(int64(1), stats.OverdueTasks)
	s.Equal(int64(1), stats.UrgentTasks)

	updated, err = s.tasks.Update(ctx, s.owner, task.ID, TaskInput{
		Title:    "Final",
		Priority: models.PriorityUrgent,
		Status:   models.StatusCancelled,
	})
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, updated.Status)
	s.Len(s.publisher.events(events.TaskStatusChanged), 1)

	stats, err = s.dashboard.Stats(ctx, s.owner)
	s.Require().NoError(err)
	s.Zero(stats.OverdueTasks)
}

func (s *ServicesTestSuite) TestDestroy_NoEventAndInvalidates() {
	ctx := context.Background()
	task := s.createTask("Temporary")

	recent, err := s.dashboard.Recent(ctx, s.owner)
	s.Require().NoError(err)
	s.Len(recent, 1)

	s.Require().NoError(s.tasks.Destroy(ctx, s.owner, task.ID))

	recent, err = s.dashboard.Recent(ctx, s.owner)
	s.Require().NoError(err)
	s.Empty(recent)
	s.Len(s.publisher.messages, 1, "only the creation is broadcast")

	_, err = s.tasks.Get(ctx, s.owner, task.ID)
	s.ErrorIs(err, ErrNotFound)
}

func (s *ServicesTestSuite) TestWrites_SurviveCacheAndBroadcastFailures() {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	tasks := NewTaskService(s.db, brokenCache{err: cache.ErrCacheDown}, failingPublisher{err: errors.New("broker down")},
		zap.New(core), DefaultCacheTTLs()).WithClock(s.clock.Now)

	created, err := tasks.Create(ctx, s.owner, TaskInput{Title: "Resilient", CategoryID: &s.work.ID})
	s.Require().NoError(err)

	updated, err := tasks.Update(ctx, s.owner, created.ID, TaskInput{
		Title:    "Still resilient",
		Priority: models.PriorityHigh,
		Status:   models.StatusInProgress,
	})
	s.Require().NoError(err)
	s.Equal(models.StatusInProgress, updated.Status)

	updated, err = tasks.UpdateStatus(ctx, s.owner, created.ID, models.StatusCompleted)
	s.Require().NoError(err)
	s.NotNil(updated.CompletedAt)

	var stored models.Task
	s.Require().NoError(s.db.First(&stored, created.ID).Error)
	s.Equal("Still resilient", stored.Title)
	s.Equal(models.PriorityHigh, stored.Priority)
	s.Equal(models.StatusCompleted, stored.Status)

	s.Require().NoError(tasks.Destroy(ctx, s.owner, created.ID))
	var count int64
	s.Require().NoError(s.db.Model(&models.Task{}).Where("id = ?", created.ID).Count(&count).Error)
	s.Zero(count)

	s.Equal(4, logs.FilterMessage("cache invalidation failed").Len())
	s.Equal(3, logs.FilterMessage("event publish failed").Len())
}

func (s *ServicesTestSuite) TestCreate_TrimsTitle() {
	ctx := context.Background()

	_, err := s.tasks.Create(ctx, s.owner, TaskInput{Title: "   \t "})
	var verr *ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Contains(verr.Fields, "title")

	task, err := s.tasks.Create(ctx, s.owner, TaskInput{Title: "  Padded  "})
	s.Require().NoError(err)
	s.Equal("Padded", task.Title)
}

func (s *ServicesTestSuite) TestUpdate_RequiresPriorityAndStatus() {
	ctx := context.Background()
	task := s.createTask("Strict")

	_, err := s.tasks.Update(ctx, s.owner, task.ID, TaskInput{Title: "Strict"})
	var verr *ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Contains(verr.Fields, "priority")
	s.Contains(verr.Fields, "status")

	reloaded, err := s.tasks.Get(ctx, s.owner, task.ID)
	s.Require().NoError(err)
	s.Equal(models.PriorityMedium, reloaded.Priority)
	s.Equal(models.StatusPending, reloaded.Status)
}

func (s *ServicesTestSuite) TestCategoryRefresh_BypassesCache() {
	ctx := context.Background()

	cached, err := s.categories.List(ctx)
	s.Require().NoError(err)
	s.Len(cached, 1)

	s.Require().NoError(s.db.Create(&models.Category{
		Name: "Home", Slug: "home", Color: models.DefaultCategoryColor,
	}).Error)

	cached, err = s.categories.List(ctx)
	s.Require().NoError(err)
	s.Len(cached, 1)

	fresh, err := s.categories.Refresh(ctx)
	s.Require().NoError(err)
	s.Len(fresh, 2)

	warmer := cache.NewCacheWarmer(s.cache, zap.NewNop(), "@every 1m")
	warmer.Register(cache.WarmupJob{
		Key: cache.CategoryListKey,
		TTL: DefaultCacheTTLs().Categories,
		Load: func(ctx context.Context) (interface{}, error) {
			return s.categories.Refresh(ctx)
		},
	})
	s.Equal(1, warmer.WarmNow(ctx))

	cached, err = s.categories.List(ctx)
	s.Require().NoError(err)
	s.Len(cached, 2)
}

func (s *ServicesTestSuite) TestCategoryDelete_NullsTaskCategory() {
	ctx := context.Background()
	task := s.createTask("Filed")

	s.Require().NoError(s.categories.Delete(ctx, s.work.ID))

	reloaded, err := s.tasks.Get(ctx, s.owner, task.ID)
	s.Require().NoError(err)
	s.Nil(reloaded.CategoryID)
	s.Nil(reloaded.Category)

	categories, err := s.categories.List(ctx)
	s.Require().NoError(err)
	s.Empty(categories)
}

func (s *ServicesTestSuite) TestCategory_CreateAndUpdate() {
	ctx := context.Background()

	home, err := s.categories.Create(ctx, CategoryInput{Name: "Home & Garden", Color: "#10b981"})
	s.Require().NoError(err)
	s.Equal("home-garden", home.Slug)
	s.Equal("#10B981", home.Color)

	_, err = s.categories.Create(ctx, CategoryInput{Name: "Work"})
	var verr *ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Contains(verr.Fields, "slug")

	_, err = s.categories.Create(ctx, CategoryInput{Name: "Bad", Color: "blue"})
	s.Require().ErrorAs(err, &verr)
	s.Contains(verr.Fields, "color")

	updated, err := s.categories.Update(ctx, home.ID, CategoryInput{Name: "Home", Slug: "home"})
	s.Require().NoError(err)
	s.Equal("home", updated.Slug)
	s.Equal(models.DefaultCategoryColor, updated.Color)
}

func (s *ServicesTestSuite) TestUserDelete_CascadesTasks() {
	ctx := context.Background()
	s.createTask("Goes away")

	s.Require().NoError(s.users.Delete(ctx, s.owner))

	var count int64
	s.Require().NoError(s.db.Model(&models.Task{}).Where("user_id = ?", s.owner.ID).Count(&count).Error)
	s.Zero(count)
	_, err := s.users.Get(ctx, s.owner.ID)
	s.ErrorIs(err, ErrNotFound)
}

func (s *ServicesTestSuite) TestUpdateProfile() {
	ctx := context.Background()

	updated, err := s.users.UpdateProfile(ctx, s.owner, ProfileUpdate{Name: " Olivia O. ", Password: "newsecret"})
	s.Require().NoError(err)
	s.Equal("Olivia O.", updated.Name)

	_, err = s.auth.Login(ctx, "owner@example.com", "secret1")
	s.ErrorIs(err, ErrInvalidCredentials)
	_, err = s.auth.Login(ctx, "owner@example.com", "newsecret")
	s.NoError(err)

	_, err = s.users.UpdateProfile(ctx, s.owner, ProfileUpdate{Name: "", Password: "abc"})
	var verr *ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Contains(verr.Fields, "name")
	s.Contains(verr.Fields, "password")
}

func (s *ServicesTestSuite) TestAuth_RegisterAndLogin() {
	ctx := context.Background()

	_, err := s.auth.Register(ctx, RegistrationRequest{Name: "Dup", Email: "OWNER@example.com", Password: "secret1"})
	s.ErrorIs(err, ErrEmailTaken)

	_, err = s.auth.Register(ctx, RegistrationRequest{Name: "", Email: "not-an-email", Password: "123"})
	var verr *ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Len(verr.Fields, 3)

	user, err := s.auth.Login(ctx, "Owner@Example.com", "secret1")
	s.Require().NoError(err)
	s.Equal(s.owner.ID, user.ID)
	s.NotEqual("secret1", user.Password)

	_, err = s.auth.Login(ctx, "nobody@example.com", "secret1")
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *ServicesTestSuite) TestAuth_Tokens() {
	ctx := context.Background()

	token, expiresAt, err := s.auth.GenerateToken(s.owner)
	s.Require().NoError(err)
	s.Equal(s.clock.Now().Add(24*time.Hour), expiresAt)

	id, err := s.auth.ParseToken(token)
	s.Require().NoError(err)
	s.Equal(s.owner.ID, id)

	user, err := s.auth.Authenticate(ctx, token)
	s.Require().NoError(err)
	s.Equal(s.owner.Email, user.Email)

	other := NewAuthService(s.db, AuthOptions{Secret: "other-secret"}).WithClock(s.clock.Now)
	_, err = other.ParseToken(token)
	s.ErrorIs(err, ErrInvalidToken)

	s.clock.Advance(25 * time.Hour)
	_, err = s.auth.ParseToken(token)
	s.ErrorIs(err, ErrInvalidToken)
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"title": "cannot be blank", "due_date": "must be a valid date"}}
	assert.Equal(t, "validation failed: due_date: must be a valid date; title: cannot be blank", err.Error())
}

func TestDefaultCacheTTLs(t *testing.T) {
	ttl := DefaultCacheTTLs()
	require.Equal(t, 300*time.Second, ttl.DashboardStats)
	require.Equal(t, 120*time.Second, ttl.RecentTasks)
	require.Equal(t, 600*time.Second, ttl.Categories)
	require.Equal(t, 180*time.Second, ttl.TaskList)
}
