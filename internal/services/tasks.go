package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"taskflow/backend/internal/cache"
	"taskflow/backend/internal/events"
	"taskflow/backend/internal/models"
	"taskflow/backend/internal/repositories"
)

// TaskInput is the writable part of a task. DueDate is YYYY-MM-DD or empty.
type TaskInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    models.Priority `json:"priority"`
	Status      models.Status   `json:"status"`
	CategoryID  *uint           `json:"category_id"`
	DueDate     string          `json:"due_date"`
}

type TaskService struct {
	tasks      *repositories.TaskRepository
	categories *repositories.CategoryRepository
	cache      cache.Cache
	publisher  events.Publisher
	log        *zap.Logger
	ttl        CacheTTLs
	now        Clock
}

func NewTaskService(db *gorm.DB, c cache.Cache, publisher events.Publisher, log *zap.Logger, ttl CacheTTLs) *TaskService {
	return &TaskService{
		tasks:      repositories.NewTaskRepository(db),
		categories: repositories.NewCategoryRepository(db),
		cache:      c,
		publisher:  publisher,
		log:        log,
		ttl:        ttl,
		now:        utcNow,
	}
}

func (s *TaskService) WithClock(now Clock) *TaskService {
	s.now = now
	return s
}

func priorityValues() []interface{} {
	out := make([]interface{}, len(models.Priorities))
	for i, p := range models.Priorities {
		out[i] = p
	}
	return out
}

func statusValues() []interface{} {
	out := make([]interface{}, len(models.Statuses))
	for i, st := range models.Statuses {
		out[i] = st
	}
	return out
}

// validate trims the title, checks in and returns its parsed due date. On
// create the due date may not lie before today and the status is ignored; on
// update both priority and status are required.
func (s *TaskService) validate(ctx context.Context, in *TaskInput, creating bool) (*time.Time, error) {
	in.Title = strings.TrimSpace(in.Title)

	errs := fieldErrors{}
	err := errs.merge(validation.ValidateStruct(in,
		validation.Field(&in.Title, validation.Required, validation.RuneLength(0, 255)),
		validation.Field(&in.Description, validation.RuneLength(0, 5000)),
		validation.Field(&in.Priority, validation.When(!creating, validation.Required), validation.In(priorityValues()...)),
		validation.Field(&in.Status, validation.When(!creating, validation.Required), validation.In(statusValues()...)),
		validation.Field(&in.DueDate, validation.Date(models.DateLayout)),
	))
	if err != nil {
		return nil, err
	}

	if in.CategoryID != nil {
		exists, err := s.categories.Exists(ctx, *in.CategoryID)
		if err != nil {
			return nil, err
		}
		if !exists {
			errs.add("category_id", "the selected category does not exist")
		}
	}

	var due *time.Time
	if _, bad := errs["due_date"]; !bad {
		due, _ = models.ParseDate(in.DueDate, time.UTC)
		if creating && due != nil && due.Before(models.StartOfDay(s.now())) {
			errs.add("due_date", "must be today or a later date")
		}
	}
	return due, errs.err()
}

// Create stores a new pending task for user and announces it on the user's topic.
func (s *TaskService) Create(ctx context.Context, user *models.User, in TaskInput) (*models.Task, error) {
	due, err := s.validate(ctx, &in, true)
	if err != nil {
		return nil, err
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}

	task := &models.Task{
		UserID:      user.ID,
		CategoryID:  in.CategoryID,
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		DueDate:     due,
	}
	now := s.now()
	task.SetStatus(models.StatusPending, now)

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	created, err := s.tasks.Find(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	cache.Invalidate(ctx, s.cache, s.log, userWriteKeys(user.ID)...)
	publish(ctx, s.publisher, s.log, user.ID, events.TaskCreated,
		events.NewTaskCreatedPayload(created, user, now))

	s.log.Info("task created", zap.Uint("task_id", created.ID), zap.Uint("user_id", user.ID))
	return created, nil
}

func (s *TaskService) Get(ctx context.Context, user *models.User, id uint) (*models.Task, error) {
	return s.owned(ctx, user, id)
}

// Update replaces the task's fields. A due date in the past is accepted.
func (s *TaskService) Update(ctx context.Context, user *models.User, id uint, in TaskInput) (*models.Task, error) {
	task, err := s.owned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	due, err := s.validate(ctx, &in, false)
	if err != nil {
		return nil, err
	}

	task.Priority = in.Priority
	task.Title = in.Title
	task.Description = in.Description
	task.CategoryID = in.CategoryID
	task.DueDate = due

	return s.applyStatus(ctx, user, task, in.Status)
}

// UpdateStatus changes only the task's status.
func (s *TaskService) UpdateStatus(ctx context.Context, user *models.User, id uint, status models.Status) (*models.Task, error) {
	task, err := s.owned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	err = validation.Validate(status, validation.Required, validation.In(statusValues()...))
	var ruleErr validation.Error
	if errors.As(err, &ruleErr) {
		return nil, &ValidationError{Fields: map[string]string{"status": ruleErr.Error()}}
	}
	if err != nil {
		return nil, err
	}
	return s.applyStatus(ctx, user, task, status)
}

func (s *TaskService) applyStatus(ctx context.Context, user *models.User, task *models.Task, status models.Status) (*models.Task, error) {
	oldStatus := task.Status
	now := s.now()
	task.SetStatus(status, now)

	if err := s.tasks.Save(ctx, task); err != nil {
		return nil, err
	}
	updated, err := s.tasks.Find(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	cache.Invalidate(ctx, s.cache, s.log, userWriteKeys(user.ID)...)
	if oldStatus != updated.Status {
		publish(ctx, s.publisher, s.log, user.ID, events.TaskStatusChanged,
			events.NewTaskStatusChangedPayload(updated, oldStatus, user, now))
	}
	return updated, nil
}

// Destroy deletes the task. Deletions are not broadcast.
func (s *TaskService) Destroy(ctx context.Context, user *models.User, id uint) error {
	if _, err := s.owned(ctx, user, id); err != nil {
		return err
	}
	if err := s.tasks.Delete(ctx, id); err != nil {
		return err
	}
	cache.Invalidate(ctx, s.cache, s.log, userWriteKeys(user.ID)...)
	s.log.Info("task deleted", zap.Uint("task_id", id), zap.Uint("user_id", user.ID))
	return nil
}

// List returns one page of the user's tasks. Pages are cached per filter and
// are not invalidated by writes; they expire after the task list TTL.
func (s *TaskService) List(ctx context.Context, user *models.User, filter models.TaskFilter) (models.TaskPage, error) {
	filter = filter.Normalize()
	key := cache.TaskListKey(user.ID, filter)
	return cache.GetOrCompute(ctx, s.cache, s.log, key, s.ttl.TaskList, func(ctx context.Context) (models.TaskPage, error) {
		tasks, total, err := s.tasks.List(ctx, user.ID, filter)
		if err != nil {
			return models.TaskPage{}, err
		}
		return models.NewTaskPage(tasks, total, filter.Page), nil
	})
}

func (s *TaskService) owned(ctx context.Context, user *models.User, id uint) (*models.Task, error) {
	task, err := s.tasks.Find(ctx, id)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("task %d", id))
	}
	if task.UserID != user.ID {
		return nil, ErrForbidden
	}
	return task, nil
}
