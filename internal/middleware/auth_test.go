package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-inbox/internal/models"
)

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	validator := StaticValidator{
		"admin-token":  {UserID: 1, Role: models.RoleAdmin},
		"client-token": {UserID: 2, Role: models.RoleClient},
	}
	r := gin.New()
	r.GET("/me", AuthMiddleware(validator), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt(UserIDKey), "role": c.GetString(RoleKey)})
	})
	r.POST("/reply", AuthMiddleware(validator), RequireRole(models.RoleAdmin, models.RoleGerente), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func serve(r *gin.Engine, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	r := setupRouter()

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer admin-token", http.StatusOK},
		{"case-insensitive scheme", "bearer admin-token", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(r, http.MethodGet, "/me", tt.header)
			require.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	r := setupRouter()

	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodPost, "/reply", "Bearer admin-token").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodPost, "/reply", "Bearer client-token").Code)
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
	_, ok = BearerToken("abc")
	assert.False(t, ok)
}
