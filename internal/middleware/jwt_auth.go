package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/creditdesk/creditdesk/internal/api"
	"github.com/creditdesk/creditdesk/internal/logger"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

const tokenIssuer = "creditdesk"

// UserClaims carries the actor identity. The role is resolved against the
// policy on every request, so revoking a capability takes effect at once.
type UserClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthConfig holds JWT authentication configuration
type JWTAuthConfig struct {
	// Secret signs and verifies HS256 tokens
	Secret string

	// Expiry is the token lifetime
	Expiry time.Duration

	// SkipPaths are paths that don't require authentication. A trailing
	// '*' matches any suffix.
	SkipPaths []string
}

// JWTAuthMiddleware provides JWT-based authentication
type JWTAuthMiddleware struct {
	config  JWTAuthConfig
	skipMap map[string]bool
	log     *logger.Logger
	now     func() time.Time
}

type actorContextKey struct{}

// NewJWTAuthMiddleware creates a new JWT authentication middleware
func NewJWTAuthMiddleware(config JWTAuthConfig, log *logger.Logger) *JWTAuthMiddleware {
	if config.Expiry <= 0 {
		config.Expiry = 24 * time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	m := &JWTAuthMiddleware{
		config:  config,
		skipMap: make(map[string]bool, len(config.SkipPaths)),
		log:     log.With("service", "JWTAuth"),
		now:     time.Now,
	}
	for _, path := range config.SkipPaths {
		m.skipMap[path] = true
	}
	return m
}

// GenerateToken signs a token for username acting as role.
func (m *JWTAuthMiddleware) GenerateToken(username, role string) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.config.Expiry)
	claims := UserClaims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.Secret))
	return signed, expires, err
}

// ValidateToken validates a JWT token and returns the claims
func (m *JWTAuthMiddleware) ValidateToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(m.config.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.Username == "" || claims.Role == "" {
		return nil, errors.New("token is missing username or role")
	}
	return claims, nil
}

// Wrap wraps an http.Handler with JWT authentication
func (m *JWTAuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || m.shouldSkipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := extractToken(r)
		if tokenString == "" {
			m.unauthorized(w, "Missing authentication token")
			return
		}

		claims, err := m.ValidateToken(tokenString)
		if err != nil {
			m.log.Warn("invalid token", "remote_addr", r.RemoteAddr, "request_id", GetRequestID(r.Context()), "error", err)
			m.unauthorized(w, "Invalid or expired token")
			return
		}

		actor := workflow.Actor{ID: claims.Username, Role: claims.Role}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// shouldSkipAuth checks if the path should skip authentication
func (m *JWTAuthMiddleware) shouldSkipAuth(path string) bool {
	if m.skipMap[path] {
		return true
	}
	for skipPath := range m.skipMap {
		if prefix, ok := strings.CutSuffix(skipPath, "*"); ok && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// extractToken reads a Bearer token, or the access_token query parameter on
// websocket upgrades where browsers cannot set headers.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func (m *JWTAuthMiddleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer realm=\"API\"")
	api.RespondErrorWithCode(w, http.StatusUnauthorized, "unauthorized", message)
}

// WithActor stores the authenticated actor in ctx.
func WithActor(ctx context.Context, actor workflow.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// GetActorFromContext returns the authenticated actor, if any.
func GetActorFromContext(ctx context.Context) (workflow.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(workflow.Actor)
	return actor, ok
}
