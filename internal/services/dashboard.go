package services

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"taskflow/backend/internal/cache"
	"taskflow/backend/internal/models"
	"taskflow/backend/internal/repositories"
)

type DashboardService struct {
	tasks *repositories.TaskRepository
	cache cache.Cache
	log   *zap.Logger
	ttl   CacheTTLs
	now   Clock
}

func NewDashboardService(db *gorm.DB, c cache.Cache, log *zap.Logger, ttl CacheTTLs) *DashboardService {
	return &DashboardService{
		tasks: repositories.NewTaskRepository(db),
		cache: c,
		log:   log,
		ttl:   ttl,
		now:   utcNow,
	}
}

func (s *DashboardService) WithClock(now Clock) *DashboardService {
	s.now = now
	return s
}

func (s *DashboardService) Stats(ctx context.Context, user *models.User) (models.DashboardStats, error) {
	return cache.GetOrCompute(ctx, s.cache, s.log, cache.DashboardStatsKey(user.ID), s.ttl.DashboardStats,
		func(ctx context.Context) (models.DashboardStats, error) {
			return s.tasks.Stats(ctx, user.ID, models.StartOfDay(s.now()))
		})
}

// Recent returns the user's newest tasks with their categories.
func (s *DashboardService) Recent(ctx context.Context, user *models.User) ([]models.Task, error) {
	return cache.GetOrCompute(ctx, s.cache, s.log, cache.RecentTasksKey(user.ID), s.ttl.RecentTasks,
		func(ctx context.Context) ([]models.Task, error) {
			tasks, err := s.tasks.Recent(ctx, user.ID, models.RecentTasksLimit)
			if err != nil {
				return nil, err
			}
			if tasks == nil {
				tasks = []models.Task{}
			}
			return tasks, nil
		})
}
