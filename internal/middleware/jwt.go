// internal/middleware/jwt.go
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

const (
	// Token expiration time - 24 hours
	tokenExpiration = 24 * time.Hour

	tokenIssuer = "gator-clubs-api"
)

// Claims represents the JWT claims for our application
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Roles  []string  `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// UnprotectedRoutes defines routes that don't require JWT authentication
var UnprotectedRoutes = map[string]bool{
	"/health": true,
}

// JWTAuth issues and validates HS256 tokens signed with one secret.
type JWTAuth struct {
	secret []byte
	log    *zap.Logger
	now    func() time.Time
}

func NewJWTAuth(secret string, logger *zap.Logger) *JWTAuth {
	return &JWTAuth{secret: []byte(secret), log: logger, now: time.Now}
}

// GenerateToken creates a new JWT token for the given user ID and roles
func (a *JWTAuth) GenerateToken(userID uuid.UUID, roles ...string) (string, error) {
	now := a.now()
	claims := &Claims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   userID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken validates the provided JWT token
func (a *JWTAuth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			// Verify signing method
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == uuid.Nil {
		return nil, errors.New("token has no user id")
	}
	return claims, nil
}

// Middleware resolves the bearer token into a Principal on the request
// context. Unprotected routes pass through untouched.
func (a *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UnprotectedRoutes[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			utils.WriteError(w, utils.NewAppError(utils.ErrUnauthorized, "Authorization header required", nil))
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			utils.WriteError(w, utils.NewAppError(utils.ErrUnauthorized, "Invalid authorization format", nil))
			return
		}

		claims, err := a.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			a.log.Debug("rejected token", zap.Error(err))
			utils.WriteError(w, utils.NewAppError(utils.ErrUnauthorized, "Invalid token", nil))
			return
		}

		ctx := SetPrincipalInContext(r.Context(), models.Principal{UserID: claims.UserID, Roles: claims.Roles})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Define a custom context key type to avoid collisions
type contextKey string

const principalKey contextKey = "principal"

func SetPrincipalInContext(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}
