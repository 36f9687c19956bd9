package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"radar/internal/model"
)

var (
	ErrNoToken        = errors.New("missing bearer token")
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionExpired = errors.New("session expired")
	ErrNoProfile      = errors.New("no profile for user")
	ErrRestricted     = errors.New("account is banned or suspended")
)

// User is the authenticated caller
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role"`
}

// Provider resolves a bearer token to a user
type Provider interface {
	Authenticate(ctx context.Context, token string) (User, error)
}

// GormProvider looks tokens up in auth_sessions and users in profiles
type GormProvider struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormProvider(db *gorm.DB) *GormProvider {
	return &GormProvider{db: db, now: time.Now}
}

func (p *GormProvider) Authenticate(ctx context.Context, token string) (User, error) {
	var session model.AuthSession
	err := p.db.WithContext(ctx).First(&session, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUnknownSession
	}
	if err != nil {
		return User{}, fmt.Errorf("load session: %w", err)
	}
	if !session.ExpiresAt.After(p.now()) {
		return User{}, ErrSessionExpired
	}

	var profile model.Profile
	err = p.db.WithContext(ctx).First(&profile, "id = ?", session.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNoProfile
	}
	if err != nil {
		return User{}, fmt.Errorf("load profile: %w", err)
	}
	if profile.Banned || profile.Suspended {
		return User{}, ErrRestricted
	}

	return User{
		ID:        profile.ID,
		Name:      profile.DisplayName,
		AvatarURL: profile.AvatarURL,
		Role:      profile.Role,
	}, nil
}

const userKey = "identity.user"

// BearerToken extracts the token from the Authorization header. Browsers
// can't set headers on WebSocket upgrades, so the access_token query
// parameter is accepted too.
func BearerToken(c *gin.Context) (string, error) {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", ErrNoToken
		}
		return strings.TrimSpace(token), nil
	}
	if token := c.Query("access_token"); token != "" {
		return token, nil
	}
	return "", ErrNoToken
}

// Middleware rejects requests without a valid session and stores the
// user on the gin context
func Middleware(provider Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := BearerToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		user, err := provider.Authenticate(c.Request.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, ErrRestricted):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		case errors.Is(err, ErrUnknownSession), errors.Is(err, ErrSessionExpired), errors.Is(err, ErrNoProfile):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		default:
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "identity lookup failed"})
			return
		}

		WithUser(c, user)
		c.Next()
	}
}

// CurrentUser returns the user stored by Middleware
func CurrentUser(c *gin.Context) (User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return User{}, false
	}
	user, ok := v.(User)
	return user, ok
}

// WithUser stores user on the context for CurrentUser
func WithUser(c *gin.Context, user User) {
	c.Set(userKey, user)
}
