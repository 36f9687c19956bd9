package identity

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"radar/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Profile{}, &model.AuthSession{}))

	now := time.Now()
	require.NoError(t, db.Create(&model.Profile{ID: "u1", DisplayName: "Ann", Role: "premium"}).Error)
	require.NoError(t, db.Create(&model.Profile{ID: "u2", DisplayName: "Eve", Role: "user", Banned: true}).Error)
	for _, s := range []model.AuthSession{
		{Token: "good", UserID: "u1", ExpiresAt: now.Add(time.Hour)},
		{Token: "stale", UserID: "u1", ExpiresAt: now.Add(-time.Hour)},
		{Token: "banned", UserID: "u2", ExpiresAt: now.Add(time.Hour)},
		{Token: "orphan", UserID: "nobody", ExpiresAt: now.Add(time.Hour)},
	} {
		require.NoError(t, db.Create(&s).Error)
	}
	return db
}

func newTestRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Middleware(NewGormProvider(newTestDB(t))), func(c *gin.Context) {
		user, ok := CurrentUser(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, user)
	})
	return r
}

func TestMiddleware(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"valid header", "Bearer good", "", http.StatusOK},
		{"valid query", "", "?access_token=good", http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", "", http.StatusUnauthorized},
		{"unknown", "Bearer nope", "", http.StatusUnauthorized},
		{"expired", "Bearer stale", "", http.StatusUnauthorized},
		{"no profile", "Bearer orphan", "", http.StatusUnauthorized},
		{"banned", "Bearer banned", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestMiddleware_SetsUser(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer good")
	rr := httptest.NewRecorder()

	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"id":"u1","name":"Ann","role":"premium"}`, rr.Body.String())
}
