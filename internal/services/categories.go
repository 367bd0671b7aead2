package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"taskflow/backend/internal/cache"
	"taskflow/backend/internal/models"
	"taskflow/backend/internal/repositories"
)

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// CategoryInput is the writable part of a category. An empty slug is derived
// from the name and an empty color falls back to the default.
type CategoryInput struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// CategoryService manages the global category list. Every write drops the
// cached list.
type CategoryService struct {
	categories *repositories.CategoryRepository
	cache      cache.Cache
	log        *zap.Logger
	ttl        CacheTTLs
}

func NewCategoryService(db *gorm.DB, c cache.Cache, log *zap.Logger, ttl CacheTTLs) *CategoryService {
	return &CategoryService{
		categories: repositories.NewCategoryRepository(db),
		cache:      c,
		log:        log,
		ttl:        ttl,
	}
}

// List returns every category with its task count.
func (s *CategoryService) List(ctx context.Context) ([]models.CategoryWithCount, error) {
	return cache.GetOrCompute(ctx, s.cache, s.log, cache.CategoryListKey, s.ttl.Categories, s.categories.ListWithCounts)
}

// Refresh reloads the category list from the database without consulting the
// cache. The warmer stores its result under CategoryListKey.
func (s *CategoryService) Refresh(ctx context.Context) ([]models.CategoryWithCount, error) {
	return s.categories.ListWithCounts(ctx)
}

func (s *CategoryService) Create(ctx context.Context, in CategoryInput) (*models.Category, error) {
	category := &models.Category{}
	if err := s.apply(ctx, category, in); err != nil {
		return nil, err
	}
	if err := s.categories.Create(ctx, category); err != nil {
		return nil, err
	}
	cache.Invalidate(ctx, s.cache, s.log, cache.CategoryListKey)
	return category, nil
}

func (s *CategoryService) Update(ctx context.Context, id uint, in CategoryInput) (*models.Category, error) {
	category, err := s.categories.Find(ctx, id)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("category %d", id))
	}
	if err := s.apply(ctx, category, in); err != nil {
		return nil, err
	}
	if err := s.categories.Save(ctx, category); err != nil {
		return nil, err
	}
	cache.Invalidate(ctx, s.cache, s.log, cache.CategoryListKey)
	return category, nil
}

// Delete removes the category; its tasks remain with no category.
func (s *CategoryService) Delete(ctx context.Context, id uint) error {
	if _, err := s.categories.Find(ctx, id); err != nil {
		return notFound(err, fmt.Sprintf("category %d", id))
	}
	if err := s.categories.Delete(ctx, id); err != nil {
		return err
	}
	cache.Invalidate(ctx, s.cache, s.log, cache.CategoryListKey)
	return nil
}

func (s *CategoryService) apply(ctx context.Context, category *models.Category, in CategoryInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Slug = models.Slugify(in.Slug)
	if in.Slug == "" {
		in.Slug = models.Slugify(in.Name)
	}
	if in.Color == "" {
		in.Color = models.DefaultCategoryColor
	}

	errs := fieldErrors{}
	err := errs.merge(validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.RuneLength(0, 255)),
		validation.Field(&in.Slug, validation.RuneLength(0, 255)),
		validation.Field(&in.Color, validation.Match(hexColor).Error("must be a hex color like #3B82F6")),
		validation.Field(&in.Description, validation.RuneLength(0, 1000)),
	))
	if err != nil {
		return err
	}

	if in.Slug == "" {
		errs.add("slug", "cannot be blank")
	} else {
		taken, err := s.categories.SlugTaken(ctx, in.Slug, category.ID)
		if err != nil {
			return err
		}
		if taken {
			errs.add("slug", "has already been taken")
		}
	}
	if err := errs.err(); err != nil {
		return err
	}

	category.Name = in.Name
	category.Slug = in.Slug
	category.Color = strings.ToUpper(in.Color)
	category.Description = in.Description
	return nil
}
