package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"taskflow/backend/internal/models"
	"taskflow/backend/internal/repositories"
)

type AuthOptions struct {
	Secret     string
	Issuer     string
	TokenTTL   time.Duration
	BCryptCost int
}

// AuthService registers users and issues the bearer tokens that identify
// them on every other request.
type AuthService struct {
	users   *repositories.UserRepository
	options AuthOptions
	now     Clock
}

func NewAuthService(db *gorm.DB, options AuthOptions) *AuthService {
	if options.Issuer == "" {
		options.Issuer = "taskflow"
	}
	if options.TokenTTL <= 0 {
		options.TokenTTL = 24 * time.Hour
	}
	if options.BCryptCost == 0 {
		options.BCryptCost = bcrypt.DefaultCost
	}
	return &AuthService{
		users:   repositories.NewUserRepository(db),
		options: options,
		now:     time.Now,
	}
}

func (s *AuthService) WithClock(now Clock) *AuthService {
	s.now = now
	return s
}

func VerifyPassword(hashedPassword, plainPassword string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(plainPassword))
	return err == nil
}

func (s *AuthService) HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.options.BCryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Login returns the user owning email when password matches. Unknown emails
// and wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !VerifyPassword(user.Password, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GenerateToken signs an HS256 access token whose subject is the user id.
func (s *AuthService) GenerateToken(user *models.User) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.options.TokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(user.ID), 10),
		Issuer:    s.options.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.options.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken validates a token issued by GenerateToken and returns its user id.
func (s *AuthService) ParseToken(tokenString string) (uint, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(token *jwt.Token) (interface{}, error) {
			return []byte(s.options.Secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.options.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	return uint(id), nil
}

// Authenticate resolves a bearer token to the user it names.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (*models.User, error) {
	id, err := s.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}
	user, err := s.users.Find(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %d no longer exists", ErrInvalidToken, id)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
