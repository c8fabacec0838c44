package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"brokenLinkAnalyzerGO/internal/config"
	"brokenLinkAnalyzerGO/internal/models"
)

const userContextKey = "user"

// Claims are the JWT claims identifying a caller
type Claims struct {
	Email string `json:"email"`
	Plan  string `json:"plan"`
	jwt.RegisteredClaims
}

// Auth authenticates requests. With a JWT secret configured every request
// needs a valid HS256 bearer token; without one all requests run as the
// configured default user.
type Auth struct {
	secret      []byte
	defaultUser models.User
	logger      *slog.Logger
}

// NewAuth creates the authentication middleware
func NewAuth(cfg config.AuthConfig, logger *slog.Logger) *Auth {
	if cfg.JWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET not set, every request runs as the default user", "user_id", cfg.DefaultUserID)
	}
	return &Auth{
		secret: []byte(cfg.JWTSecret),
		defaultUser: models.User{
			ID:    cfg.DefaultUserID,
			Email: cfg.DefaultUserEmail,
			Plan:  models.Plan(cfg.DefaultUserPlan),
		},
		logger: logger,
	}
}

// Authenticate is a middleware resolving the calling user
func (a *Auth) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(a.secret) == 0 {
			c.Set(userContextKey, a.defaultUser)
			c.Next()
			return
		}

		token, err := extractToken(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.Response{
				Success: false,
				Error:   "Invalid or missing token",
			})
			return
		}

		user, err := a.verifyToken(token)
		if err != nil {
			a.logger.Warn("Failed to verify token", "error", err, "request_id", GetRequestID(c))
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.Response{
				Success: false,
				Error:   "Invalid token",
			})
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// verifyToken validates an HS256 token and maps its claims to a user
func (a *Auth) verifyToken(tokenString string) (models.User, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.User{}, err
	}

	if claims.Subject == "" {
		return models.User{}, errors.New("token has no subject")
	}
	plan, err := models.ParsePlan(claims.Plan)
	if err != nil {
		return models.User{}, err
	}

	return models.User{ID: claims.Subject, Email: claims.Email, Plan: plan}, nil
}

// extractToken extracts the bearer token from the request
func extractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is required")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("authorization header format must be Bearer {token}")
	}
	return strings.TrimSpace(parts[1]), nil
}

// CurrentUser returns the user resolved by Authenticate.
func CurrentUser(c *gin.Context) (models.User, bool) {
	v, exists := c.Get(userContextKey)
	if !exists {
		return models.User{}, false
	}
	user, ok := v.(models.User)
	return user, ok
}
