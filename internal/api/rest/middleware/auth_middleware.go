package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey тип для ключей контекста во избежание коллизий
type ContextKey string

const (
	// ContextUserIDKey ключ для хранения ID пользователя в контексте
	ContextUserIDKey ContextKey = "userID"
	authHeaderPrefix            = "Bearer "

	// ScopeAdmin область доступа для операционных эндпоинтов журнала
	ScopeAdmin = "admin"
)

// TokenClaims утверждения токена доступа
type TokenClaims struct {
	UserEmail string `json:"email"`
	Scope     string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenValidator проверяет токен доступа и возвращает его утверждения
type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// HMACTokenValidator реализация TokenValidator для HMAC-подписанных токенов
type HMACTokenValidator struct {
	secret []byte
}

// NewHMACTokenValidator создает валидатор с общим секретом
func NewHMACTokenValidator(secret string) *HMACTokenValidator {
	return &HMACTokenValidator{secret: []byte(secret)}
}

// Validate разбирает и проверяет токен
func (v *HMACTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

// JWTMiddleware аутентификация запросов по JWT
type JWTMiddleware struct {
	log       *logger.Logger
	validator TokenValidator
}

// NewJWTMiddleware создает новое middleware аутентификации
func NewJWTMiddleware(validator TokenValidator, log *logger.Logger) *JWTMiddleware {
	return &JWTMiddleware{
		log:       log,
		validator: validator,
	}
}

// RequireAuth проверяет токен и требуемые области доступа
func (m *JWTMiddleware) RequireAuth(requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.handleAuthError(c, "Missing authorization token")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, authHeaderPrefix)
		claims, err := m.validator.Validate(tokenString)
		if err != nil {
			m.handleAuthError(c, fmt.Sprintf("Token validation failed: %v", err))
			return
		}

		if len(requiredScopes) > 0 && !m.hasRequiredScope(claims.Scope, requiredScopes) {
			m.handleAuthError(c, "Insufficient token permissions")
			return
		}

		userID := claims.Subject
		if userID == "" {
			m.handleAuthError(c, "User ID (sub) missing in token")
			return
		}

		c.Set(string(ContextUserIDKey), userID)
		m.log.Debugw("User authenticated", "userID", userID)
		c.Next()
	}
}

func (m *JWTMiddleware) hasRequiredScope(tokenScope string, requiredScopes []string) bool {
	for _, scope := range requiredScopes {
		if tokenScope == scope {
			return true
		}
	}
	return false
}

func (m *JWTMiddleware) handleAuthError(c *gin.Context, message string) {
	m.log.Warnw("HTTP authentication failed", "path", c.Request.URL.Path, "reason", message)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// UserIDFromContext извлекает ID аутентифицированного пользователя
func UserIDFromContext(c *gin.Context) (string, bool) {
	userID := c.GetString(string(ContextUserIDKey))
	return userID, userID != ""
}
