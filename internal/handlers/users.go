package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"taskflow/backend/internal/models"
	"taskflow/backend/internal/services"
)

type UserService interface {
	Get(ctx context.Context, id uint) (*models.User, error)
	UpdateProfile(ctx context.Context, user *models.User, in services.ProfileUpdate) (*models.User, error)
	Delete(ctx context.Context, user *models.User) error
}

type UserHandler struct {
	userService UserService
}

func NewUserHandler(userService UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

func (h *UserHandler) GetUserProfile(c *gin.Context) {
	current, ok := currentUser(c)
	if !ok {
		return
	}
	user, err := h.userService.Get(c.Request.Context(), current.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":       user,
		"first_name": user.FirstName(),
		"initials":   user.Initials(),
	})
}

func (h *UserHandler) UpdateUserProfile(c *gin.Context) {
	current, ok := currentUser(c)
	if !ok {
		return
	}
	var input services.ProfileUpdate
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.userService.UpdateProfile(c.Request.Context(), current, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *UserHandler) DeleteUser(c *gin.Context) {
	current, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.userService.Delete(c.Request.Context(), current); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
