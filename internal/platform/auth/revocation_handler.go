package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// revokeTokenRequest is the request body for POST /auth/sessions/revoke.
type revokeTokenRequest struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id,omitempty"`
}

// revokeUserRequest is the request body for POST /auth/sessions/revoke-user.
type revokeUserRequest struct {
	UserID string `json:"user_id"`
}

type revokeUserResponse struct {
	UserID        string    `json:"user_id"`
	RevokedBefore time.Time `json:"revoked_before"`
}

type revocationListResponse struct {
	Count   int              `json:"count"`
	Entries []RevocationInfo `json:"entries"`
}

// RegisterRevocationRoutes registers logout for the caller's own sessions and
// admin-only session management.
func RegisterRevocationRoutes(g *echo.Group, store *TokenRevocationStore) {
	g.POST("/auth/logout", handleLogout(store))
	g.POST("/auth/logout-all", handleLogoutAll(store))

	admin := g.Group("/auth/sessions", RequireRole(RoleAdmin))
	admin.GET("", handleListRevocations(store))
	admin.POST("/revoke", handleRevokeToken(store))
	admin.POST("/revoke-user", handleRevokeUser(store))
}

// handleLogout revokes the token the request was authenticated with.
func handleLogout(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims := ClaimsFromContext(c.Request().Context())
		if claims == nil || claims.ID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "request was not authenticated with a session token")
		}

		expiresAt := time.Now().Add(store.ttl)
		if claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time
		}
		store.Revoke(claims.ID, claims.Subject, expiresAt)
		return c.NoContent(http.StatusNoContent)
	}
}

// handleLogoutAll revokes every token issued to the caller so far.
func handleLogoutAll(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := UserIDFromContext(c.Request().Context())
		if userID == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
		store.RevokeUser(userID)
		return c.NoContent(http.StatusNoContent)
	}
}

// handleRevokeToken revokes a specific token by JTI.
func handleRevokeToken(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req revokeTokenRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}

		if req.JTI == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "jti is required")
		}

		if req.ExpiresAt.IsZero() {
			req.ExpiresAt = time.Now().Add(store.ttl)
		}
		store.Revoke(req.JTI, req.UserID, req.ExpiresAt)
		return c.NoContent(http.StatusNoContent)
	}
}

// handleRevokeUser signs a user out of every session.
func handleRevokeUser(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req revokeUserRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}

		if req.UserID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
		}

		at := store.RevokeUser(req.UserID)
		return c.JSON(http.StatusOK, revokeUserResponse{UserID: req.UserID, RevokedBefore: at})
	}
}

// handleListRevocations returns all currently active revocation entries.
func handleListRevocations(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries := store.Entries()
		return c.JSON(http.StatusOK, revocationListResponse{
			Count:   len(entries),
			Entries: entries,
		})
	}
}
