package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"taskflow/backend/internal/models"
)

const DemoEmail = "demo@taskflow.com"

// PasswordHasher turns a plain password into the stored hash.
type PasswordHasher func(password string) (string, error)

var demoCategories = []models.Category{
	{Name: "Work", Slug: "work", Color: "#3B82F6", Description: "Work-related tasks and projects"},
	{Name: "Personal", Slug: "personal", Color: "#10B981", Description: "Personal errands and goals"},
	{Name: "Shopping", Slug: "shopping", Color: "#F59E0B", Description: "Shopping lists and purchases"},
	{Name: "Health", Slug: "health", Color: "#EF4444", Description: "Health and fitness tasks"},
	{Name: "Learning", Slug: "learning", Color: "#8B5CF6", Description: "Study and learning goals"},
	{Name: "Finance", Slug: "finance", Color: "#06B6D4", Description: "Financial tasks and reminders"},
}

type demoTask struct {
	title    string
	priority models.Priority
	status   models.Status
	category int
	dueDays  *int
	doneAgo  time.Duration
}

func days(n int) *int { return &n }

var demoTasks = []demoTask{
	{"Set up Redis caching for the API", models.PriorityHigh, models.StatusPending, 0, days(3), 0},
	{"Buy groceries for the week", models.PriorityMedium, models.StatusPending, 2, days(1), 0},
	{"Review pull request #42", models.PriorityUrgent, models.StatusPending, 0, days(0), 0},
	{"Schedule dentist appointment", models.PriorityLow, models.StatusPending, 3, days(7), 0},
	{"Learn Vue 3 Composition API", models.PriorityMedium, models.StatusPending, 4, days(5), 0},

	{"Build the task management dashboard", models.PriorityHigh, models.StatusInProgress, 0, days(2), 0},
	{"Read \"Clean Code\" Chapter 5", models.PriorityMedium, models.StatusInProgress, 4, days(4), 0},
	{"Prepare monthly budget report", models.PriorityHigh, models.StatusInProgress, 5, days(2), 0},

	{"Set up the project skeleton", models.PriorityHigh, models.StatusCompleted, 0, nil, 24 * time.Hour},
	{"Configure CSS tooling", models.PriorityMedium, models.StatusCompleted, 0, nil, 24 * time.Hour},
	{"Morning jog 5km", models.PriorityLow, models.StatusCompleted, 3, nil, 6 * time.Hour},

	{"Submit tax documents", models.PriorityUrgent, models.StatusPending, 5, days(-2), 0},
	{"Renew gym membership", models.PriorityMedium, models.StatusPending, 3, days(-1), 0},
}

// Seed loads two demo users, the default categories and a spread of sample
// tasks. It is a no-op when the demo user already exists.
func Seed(ctx context.Context, db *gorm.DB, hash PasswordHasher, now time.Time, log *zap.Logger) error {
	db = db.WithContext(ctx)

	var existing models.User
	err := db.Where("email = ?", DemoEmail).First(&existing).Error
	if err == nil {
		log.Info("demo data already present, skipping seed")
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("check demo user: %w", err)
	}

	password, err := hash("password")
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		demo := models.User{Name: "Rijon Demo", Email: DemoEmail, Password: password}
		second := models.User{Name: "Jane Smith", Email: "jane@taskflow.com", Password: password}
		if err := tx.Create(&demo).Error; err != nil {
			return fmt.Errorf("create demo user: %w", err)
		}
		if err := tx.Create(&second).Error; err != nil {
			return fmt.Errorf("create second user: %w", err)
		}

		categories := make([]models.Category, len(demoCategories))
		copy(categories, demoCategories)
		for i := range categories {
			err := tx.Where(models.Category{Slug: categories[i].Slug}).
				Attrs(categories[i]).
				FirstOrCreate(&categories[i]).Error
			if err != nil {
				return fmt.Errorf("create category %s: %w", categories[i].Slug, err)
			}
		}

		today := models.StartOfDay(now.UTC())
		tasks := make([]models.Task, 0, len(demoTasks)+5)
		for _, d := range demoTasks {
			task := models.Task{
				UserID:     demo.ID,
				CategoryID: &categories[d.category].ID,
				Title:      d.title,
				Priority:   d.priority,
				Status:     d.status,
			}
			if d.dueDays != nil {
				due := today.AddDate(0, 0, *d.dueDays)
				task.DueDate = &due
			}
			if d.status == models.StatusCompleted {
				done := now.Add(-d.doneAgo)
				task.CompletedAt = &done
			}
			tasks = append(tasks, task)
		}
		for i := 0; i < 5; i++ {
			due := today.AddDate(0, 0, i+1)
			tasks = append(tasks, models.Task{
				UserID:     second.ID,
				CategoryID: &categories[i%len(categories)].ID,
				Title:      fmt.Sprintf("Sample task %d", i+1),
				Priority:   models.Priorities[i%len(models.Priorities)],
				Status:     models.StatusPending,
				DueDate:    &due,
			})
		}
		if err := tx.Create(&tasks).Error; err != nil {
			return fmt.Errorf("create demo tasks: %w", err)
		}

		log.Info("seeded demo data",
			zap.String("email", DemoEmail),
			zap.Int("categories", len(categories)),
			zap.Int("tasks", len(tasks)),
		)
		return nil
	})
}
