package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"taskflow/backend/internal/models"
	"taskflow/backend/internal/services"
)

const userKey = "user"

// Authenticator resolves a bearer token to the user it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// authenticated user on the context. Event streams opened from a browser
// cannot set headers, so a token query parameter is accepted as well.
func RequireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_token",
				"message": "Authorization header is required",
			})
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), tokenStr)
		if errors.Is(err, services.ErrInvalidToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": "Token validation failed",
			})
			return
		}
		if err != nil {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		SetUser(c, user)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		return token, ok && token != ""
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

// SetUser records the authenticated user for CurrentUser.
func SetUser(c *gin.Context, user *models.User) {
	c.Set(userKey, user)
}

// CurrentUser returns the user stored by RequireAuth, or nil.
func CurrentUser(c *gin.Context) *models.User {
	value, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := value.(*models.User)
	return user
}
