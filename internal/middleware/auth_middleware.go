package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/Dhoini/a11y-scan-service/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey тип для ключей контекста во избежание коллизий.
type ContextKey string

const (
	// ContextUserIDKey ключ для хранения ID пользователя в контексте
	ContextUserIDKey ContextKey = "userID"
	// ContextUserEmailKey ключ для email из токена
	ContextUserEmailKey ContextKey = "userEmail"
	authHeaderPrefix               = "Bearer "
)

type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

type TokenClaims struct {
	UserEmail string `json:"email"`
	Scope     string `json:"scope"`
	jwt.RegisteredClaims
}

// AuthenticatedHook вызывается после успешной проверки токена (заводит пользователя в БД)
type AuthenticatedHook func(ctx context.Context, userID, email string) error

type JWTMiddleware struct {
	log             *logger.Logger
	validator       TokenValidator
	onAuthenticated AuthenticatedHook
}

func NewJWTMiddleware(log *logger.Logger, validator TokenValidator, onAuthenticated AuthenticatedHook) *JWTMiddleware {
	return &JWTMiddleware{
		log:             log,
		validator:       validator,
		onAuthenticated: onAuthenticated,
	}
}

// RequireAuth пропускает только запросы с валидным токеном
func (m *JWTMiddleware) RequireAuth(requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.handleAuthError(c, "Missing authorization token")
			return
		}
		if m.authenticate(c, authHeader, requiredScopes) {
			c.Next()
		}
	}
}

// OptionalAuth пропускает анонимные запросы, но битый токен отклоняет
func (m *JWTMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}
		if m.authenticate(c, authHeader, nil) {
			c.Next()
		}
	}
}

func (m *JWTMiddleware) authenticate(c *gin.Context, authHeader string, requiredScopes []string) bool {
	if !strings.HasPrefix(authHeader, authHeaderPrefix) {
		m.handleAuthError(c, "Authorization header must use Bearer scheme")
		return false
	}
	tokenString := strings.TrimPrefix(authHeader, authHeaderPrefix)
	claims, err := m.validator.Validate(tokenString)
	if err != nil {
		m.handleAuthError(c, fmt.Sprintf("Token validation failed: %v", err))
		return false
	}

	if len(requiredScopes) > 0 && !m.hasRequiredScope(claims.Scope, requiredScopes) {
		m.handleAuthError(c, "Insufficient token permissions")
		return false
	}

	userID := claims.Subject
	if userID == "" {
		m.handleAuthError(c, "User ID (sub) missing in token")
		return false
	}

	if m.onAuthenticated != nil {
		if err := m.onAuthenticated(c.Request.Context(), userID, claims.UserEmail); err != nil {
			m.log.Errorw("Failed to load authenticated user", "userID", userID, "error", err)
			res.JsonResponse(c.Writer, res.ErrorResponse{
				Error:     "Service temporarily unavailable",
				ErrorCode: http.StatusServiceUnavailable,
			}, http.StatusServiceUnavailable)
			c.Abort()
			return false
		}
	}

	c.Set(string(ContextUserIDKey), userID)
	c.Set(string(ContextUserEmailKey), claims.UserEmail)
	m.log.Debugw("User authenticated via HTTP", "userID", userID)
	return true
}

func (m *JWTMiddleware) hasRequiredScope(tokenScope string, requiredScopes []string) bool {
	if len(requiredScopes) == 0 {
		return true
	}
	granted := strings.Fields(tokenScope)
	for _, scope := range requiredScopes {
		for _, g := range granted {
			if g == scope {
				return true
			}
		}
	}
	return false
}

func (m *JWTMiddleware) handleAuthError(c *gin.Context, message string) {
	m.log.Warnw("HTTP Authentication failed", "path", c.Request.URL.Path, "error", message)
	res.JsonResponse(c.Writer, res.ErrorResponse{
		Error:     message,
		ErrorCode: http.StatusUnauthorized,
	}, http.StatusUnauthorized)
	c.Abort()
}

// UserIDFromContext ID пользователя, если запрос аутентифицирован
func UserIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(string(ContextUserIDKey))
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// DefaultTokenValidator - реализация валидатора по умолчанию.
type DefaultTokenValidator struct {
	Secret []byte
}

func (v *DefaultTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, errors.New("malformed token")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errors.New("invalid token signature")
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, errors.New("token expired")
		default:
			return nil, fmt.Errorf("invalid token: %w", err)
		}
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token claims")
}
