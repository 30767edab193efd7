package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role identifies which namespace and permission set a principal carries.
type Role string

const (
	RolePassenger  Role = "passenger"
	RoleDriver     Role = "driver"
	RoleAdmin      Role = "admin"
	RoleDispatcher Role = "dispatcher"
	RoleManager    Role = "manager"
	RoleSupport    Role = "support"
)

// IsOperations reports whether the role belongs to the back-office set that
// may use the admin surfaces without an explicit permission grant.
func (r Role) IsOperations() bool {
	switch r {
	case RoleAdmin, RoleDispatcher, RoleManager, RoleSupport:
		return true
	default:
		return false
	}
}

// Permission is an explicit grant layered on top of Role, used by surfaces
// (like admin live-tracking) that accept more than one role but still want
// a named capability check.
type Permission string

const (
	PermissionLocationTracking Permission = "location_tracking"
)

type contextKey string

const claimsKey = contextKey("claims")

// AppClaims is the principal carried in every authenticated request, WS
// handshake included. The core never inspects the token itself — only this.
type AppClaims struct {
	UserID      string       `json:"user_id"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

func (c *AppClaims) HasPermission(p Permission) bool {
	for _, got := range c.Permissions {
		if got == p {
			return true
		}
	}
	return false
}

// CanTrackLocations is the admin-surface access policy: an operations role,
// or the explicit location_tracking grant. Both the /ws/admin handshake and
// the admin REST middleware gate on this one predicate so the two surfaces
// cannot drift apart.
func (c *AppClaims) CanTrackLocations() bool {
	return c.Role.IsOperations() || c.HasPermission(PermissionLocationTracking)
}

// JWTManager handles generating and verifying JWT tokens.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{[]byte(secretKey), tokenDuration}
}

func (m *JWTManager) GenerateToken(userID string, role Role, perms ...Permission) (string, error) {
	claims := AppClaims{
		UserID:      userID,
		Role:        role,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "dispatch-core",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// ParseToken is the single `verify(token) -> principal | err` boundary the
// rest of the core relies on.
func (m *JWTManager) ParseToken(tokenString string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// AuthMiddleware is an HTTP middleware that verifies the JWT token.
func (m *JWTManager) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			writeError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		claims, err := m.ParseToken(parts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims retrieves the AppClaims from the request context.
func GetClaims(ctx context.Context) (*AppClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*AppClaims)
	return claims, ok
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(code),
		"message": msg,
	})
}
