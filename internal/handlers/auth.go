package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"taskflow/backend/internal/models"
	"taskflow/backend/internal/services"
)

type AuthService interface {
	Register(ctx context.Context, req services.RegistrationRequest) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, error)
	GenerateToken(user *models.User) (string, time.Time, error)
}

type AuthHandler struct {
	authService AuthService
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        *models.User `json:"user"`
}

func NewAuthHandler(authService AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Token(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	h.issueToken(c, http.StatusOK, user)
}

func (h *AuthHandler) issueToken(c *gin.Context, status int, user *models.User) {
	token, expiresAt, err := h.authService.GenerateToken(user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
		User:        user,
	})
}
