package services

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"taskflow/backend/internal/cache"
	"taskflow/backend/internal/models"
	"taskflow/backend/internal/repositories"
)

// ProfileUpdate changes the user's name and, when Password is set, the password.
type ProfileUpdate struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type UserService struct {
	users *repositories.UserRepository
	auth  *AuthService
	cache cache.Cache
	log   *zap.Logger
}

func NewUserService(db *gorm.DB, auth *AuthService, c cache.Cache, log *zap.Logger) *UserService {
	return &UserService{
		users: repositories.NewUserRepository(db),
		auth:  auth,
		cache: c,
		log:   log,
	}
}

func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.users.Find(ctx, id)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("user %d", id))
	}
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, user *models.User, in ProfileUpdate) (*models.User, error) {
	in.Name = strings.TrimSpace(in.Name)

	errs := fieldErrors{}
	err := errs.merge(validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.RuneLength(0, 255)),
		validation.Field(&in.Password, validation.RuneLength(minPasswordLength, 0)),
	))
	if err != nil {
		return nil, err
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	current, err := s.Get(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	current.Name = in.Name
	if in.Password != "" {
		hashed, err := s.auth.HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		current.Password = hashed
	}
	if err := s.users.Save(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

// Delete removes the account together with its tasks.
func (s *UserService) Delete(ctx context.Context, user *models.User) error {
	if err := s.users.Delete(ctx, user.ID); err != nil {
		return err
	}
	cache.Invalidate(ctx, s.cache, s.log, userWriteKeys(user.ID)...)
	s.log.Info("user deleted", zap.Uint("user_id", user.ID))
	return nil
}
