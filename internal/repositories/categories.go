package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"taskflow/backend/internal/models"
)

type CategoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// ListWithCounts returns every category ordered by name with the number of
// tasks filed under it.
func (r *CategoryRepository) ListWithCounts(ctx context.Context) ([]models.CategoryWithCount, error) {
	var categories []models.CategoryWithCount
	err := r.db.WithContext(ctx).Model(&models.Category{}).
		Select("categories.*, COUNT(tasks.id) AS tasks_count").
		Joins("LEFT JOIN tasks ON tasks.category_id = categories.id").
		Group("categories.id").
		Order("categories.name").
		Scan(&categories).Error
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if categories == nil {
		categories = []models.CategoryWithCount{}
	}
	return categories, nil
}

func (r *CategoryRepository) Find(ctx context.Context, id uint) (*models.Category, error) {
	var category models.Category
	if err := r.db.WithContext(ctx).First(&category, id).Error; err != nil {
		return nil, fmt.Errorf("find category %d: %w", id, err)
	}
	return &category, nil
}

func (r *CategoryRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Category{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check category %d: %w", id, err)
	}
	return count > 0, nil
}

// SlugTaken reports whether another category already uses slug.
func (r *CategoryRepository) SlugTaken(ctx context.Context, slug string, exceptID uint) (bool, error) {
	var existing models.Category
	err := r.db.WithContext(ctx).Where("slug = ? AND id <> ?", slug, exceptID).First(&existing).Error
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("check slug %q: %w", slug, err)
	}
}

func (r *CategoryRepository) Create(ctx context.Context, category *models.Category) error {
	if err := r.db.WithContext(ctx).Create(category).Error; err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

func (r *CategoryRepository) Save(ctx context.Context, category *models.Category) error {
	if err := r.db.WithContext(ctx).Save(category).Error; err != nil {
		return fmt.Errorf("save category %d: %w", category.ID, err)
	}
	return nil
}

// Delete removes the category. Its tasks keep existing with no category.
func (r *CategoryRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.Category{}, id).Error; err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	return nil
}
