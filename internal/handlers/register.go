package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taskflow/backend/internal/services"
)

// Registration creates an account and logs it in.
func (h *AuthHandler) Registration(c *gin.Context) {
	var req services.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.authService.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.issueToken(c, http.StatusCreated, user)
}
