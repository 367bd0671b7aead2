package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"taskflow/backend/internal/models"
)

type DashboardService interface {
	Stats(ctx context.Context, user *models.User) (models.DashboardStats, error)
	Recent(ctx context.Context, user *models.User) ([]models.Task, error)
}

type DashboardHandler struct {
	dashboard  DashboardService
	categories CategoryService
}

func NewDashboardHandler(dashboard DashboardService, categories CategoryService) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard, categories: categories}
}

// Dashboard loads the three cached panels concurrently.
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var (
		stats      models.DashboardStats
		recent     []models.Task
		categories []models.CategoryWithCount
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() (err error) {
		stats, err = h.dashboard.Stats(ctx, user)
		return err
	})
	g.Go(func() (err error) {
		recent, err = h.dashboard.Recent(ctx, user)
		return err
	})
	g.Go(func() (err error) {
		categories, err = h.categories.List(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":        stats,
		"recent_tasks": recent,
		"categories":   categories,
		"user": gin.H{
			"name":       user.Name,
			"first_name": user.FirstName(),
			"initials":   user.Initials(),
		},
	})
}
