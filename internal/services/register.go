package services

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gorm.io/gorm"

	"taskflow/backend/internal/models"
)

const minPasswordLength = 6

type RegistrationRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r RegistrationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.RuneLength(0, 255)),
		validation.Field(&r.Email, validation.Required, validation.RuneLength(0, 255), is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.RuneLength(minPasswordLength, 0)),
	)
}

// Register creates an account. Emails are stored lower-cased and must be unique.
func (s *AuthService) Register(ctx context.Context, req RegistrationRequest) (*models.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	errs := fieldErrors{}
	if err := errs.merge(req.Validate()); err != nil {
		return nil, err
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := s.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{Name: req.Name, Email: req.Email, Password: hashed}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return user, nil
}
