// Package repositories holds the gorm queries behind the services. Methods
// return gorm errors wrapped with context; callers detect missing rows with
// errors.Is(err, gorm.ErrRecordNotFound).
package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"taskflow/backend/internal/models"
)

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Omit("User", "Category").Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// Save writes every column of task.
func (r *TaskRepository) Save(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Omit("User", "Category").Save(task).Error; err != nil {
		return fmt.Errorf("save task %d: %w", task.ID, err)
	}
	return nil
}

func (r *TaskRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.Task{}, id).Error; err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}

// Find loads a task with its owner and category.
func (r *TaskRepository) Find(ctx context.Context, id uint) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).Preload("User").Preload("Category").First(&task, id).Error
	if err != nil {
		return nil, fmt.Errorf("find task %d: %w", id, err)
	}
	return &task, nil
}

// List returns one page of the user's tasks matching filter, which must be
// normalized, plus the total number of matches.
func (r *TaskRepository) List(ctx context.Context, userID uint, filter models.TaskFilter) ([]models.Task, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Task{}).Where("user_id = ?", userID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Priority != "" {
		query = query.Where("priority = ?", filter.Priority)
	}
	if filter.CategoryID != nil {
		query = query.Where("category_id = ?", *filter.CategoryID)
	}
	if filter.Search != "" {
		pattern := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	var tasks []models.Task
	err := query.Preload("Category").
		Order(filter.Sort + " " + filter.Direction).
		Order("id " + filter.Direction).
		Limit(models.TasksPerPage).
		Offset(filter.Offset()).
		Find(&tasks).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, total, nil
}

// Recent returns the user's newest tasks with their categories.
func (r *TaskRepository) Recent(ctx context.Context, userID uint, limit int) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Preload("Category").
		Where("user_id = ?", userID).
		Order("created_at desc").
		Order("id desc").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("recent tasks: %w", err)
	}
	return tasks, nil
}

// Stats counts the user's tasks per dashboard bucket. A task is overdue when
// its due date is before today and it is neither completed nor cancelled.
func (r *TaskRepository) Stats(ctx context.Context, userID uint, today time.Time) (models.DashboardStats, error) {
	closed := []models.Status{models.StatusCompleted, models.StatusCancelled}

	var stats models.DashboardStats
	err := r.db.WithContext(ctx).Model(&models.Task{}).
		Select(`COUNT(*) AS total_tasks,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending_tasks,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS in_progress,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed_tasks,
			COALESCE(SUM(CASE WHEN due_date < ? AND status NOT IN ? THEN 1 ELSE 0 END), 0) AS overdue_tasks,
			COALESCE(SUM(CASE WHEN priority = ? AND status NOT IN ? THEN 1 ELSE 0 END), 0) AS urgent_tasks`,
			models.StatusPending, models.StatusInProgress, models.StatusCompleted,
			today, closed,
			models.PriorityUrgent, closed).
		Where("user_id = ?", userID).
		Scan(&stats).Error
	if err != nil {
		return stats, fmt.Errorf("task stats: %w", err)
	}
	return stats, nil
}
