package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	ClaimsKey    contextKey = "claims"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// DevUserID is the identity assigned to unauthenticated requests in
// development mode.
const DevUserID = "dev-user"

type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// RevocationChecker rejects tokens that were logged out before they expired.
type RevocationChecker interface {
	IsRevoked(claims *Claims) bool
}

type JWTConfig struct {
	Issuer      string
	SigningKey  []byte
	Revocations RevocationChecker
	// Skipper defaults to AuthSkipper.
	Skipper echomw.Skipper
}

func (cfg JWTConfig) skipper() echomw.Skipper {
	if cfg.Skipper != nil {
		return cfg.Skipper
	}
	return AuthSkipper
}

// parseBearer validates the Authorization header and returns the claims.
func parseBearer(header string, cfg JWTConfig) (*Claims, error) {
	if header == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}

	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	if cfg.Revocations != nil && cfg.Revocations.IsRevoked(claims) {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
	}
	return claims, nil
}

// authHeader returns the Authorization header. WebSocket upgrades may carry
// the token in the access_token query parameter instead, since browsers
// cannot set headers on the handshake.
func authHeader(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return h
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if tok := r.URL.Query().Get("access_token"); tok != "" {
			return "Bearer " + tok
		}
	}
	return ""
}

func withIdentity(c echo.Context, userID string, roles []string) {
	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	c.SetRequest(c.Request().WithContext(ctx))
}

func withClaims(c echo.Context, claims *Claims) {
	withIdentity(c, claims.Subject, claims.Roles)
	ctx := context.WithValue(c.Request().Context(), ClaimsKey, claims)
	c.SetRequest(c.Request().WithContext(ctx))
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	skip := cfg.skipper()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip(c) {
				return next(c)
			}
			claims, err := parseBearer(authHeader(c.Request()), cfg)
			if err != nil {
				return err
			}
			withClaims(c, claims)
			return next(c)
		}
	}
}

// DevAuthMiddleware is a permissive middleware for development. Requests
// without a token act as DevUserID with the admin role; requests that carry a
// token are validated like in production.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	skip := cfg.skipper()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip(c) {
				return next(c)
			}
			header := authHeader(c.Request())
			if header == "" {
				withIdentity(c, DevUserID, []string{RoleAdmin})
				return next(c)
			}
			claims, err := parseBearer(header, cfg)
			if err != nil {
				return err
			}
			withClaims(c, claims)
			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

// ClaimsFromContext returns the verified token claims, or nil when the
// request carried no token.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsKey).(*Claims)
	return claims
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// WithUser returns a context carrying an identity. Used by tests and by
// internal callers that act on behalf of a user.
func WithUser(ctx context.Context, userID string, roles ...string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}
