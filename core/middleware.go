package core

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const identityKeyName = "identity"

// RequireAuth validates the Authorization bearer token and stores the
// resolved identity in the gin context. A request with no credential at all
// is 401; a credential that is present but invalid (malformed, tampered,
// expired, or naming a missing/inactive identity) is 403.
func RequireAuth(auth *AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			respondError(c, http.StatusUnauthorized, "MISSING_TOKEN", "authentication required")
			c.Abort()
			return
		}

		token, ok := bearerToken(header)
		if !ok {
			respondError(c, http.StatusForbidden, "INVALID_TOKEN", "invalid authorization header")
			c.Abort()
			return
		}

		user, err := auth.ResolveFromToken(c.Request.Context(), token)
		if err != nil {
			respondResolveError(c, err)
			c.Abort()
			return
		}

		c.Set(identityKeyName, user)
		c.Next()
	}
}

// bearerToken extracts the token from an "Authorization: Bearer x" header value.
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// respondResolveError maps ResolveFromToken failures onto HTTP responses.
// Everything present-but-invalid is 403; only a store/internal failure is 500.
func respondResolveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		respondError(c, http.StatusForbidden, "TOKEN_EXPIRED", "token expired")
	case errors.Is(err, ErrBadSignature), errors.Is(err, ErrTokenMalformed):
		respondError(c, http.StatusForbidden, "INVALID_TOKEN", "invalid token")
	case errors.Is(err, ErrUnauthenticated):
		respondError(c, http.StatusForbidden, "UNAUTHENTICATED", "account not available")
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to resolve identity")
	}
}

// RequireRole allows the request through iff the resolved identity holds at
// least min privilege. It must run after RequireAuth; a request that somehow
// reaches it without an identity is rejected.
func RequireRole(min Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, "MISSING_TOKEN", "authentication required")
			c.Abort()
			return
		}
		if !user.Role.AtLeast(min) {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "insufficient role")
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentUser returns the identity stored by RequireAuth, if any.
func CurrentUser(c *gin.Context) (User, bool) {
	v, ok := c.Get(identityKeyName)
	if !ok {
		return User{}, false
	}
	user, ok := v.(User)
	return user, ok
}

// OriginMiddleware validates Origin/Referer against the allowed list and sets
// CORS headers. With an empty allow list every cross-origin request is
// rejected; same-origin navigation (no Origin header) always passes.
func OriginMiddleware(cfg Config) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.ToLower(o)] = struct{}{}
	}

	isAllowed := func(origin string) bool {
		if origin == "" {
			return true
		}
		if len(allowed) == 0 {
			return false
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		referer := c.GetHeader("Referer")
		if origin == "" && referer != "" {
			if u, err := url.Parse(referer); err == nil {
				origin = u.Scheme + "://" + u.Host
			}
		}

		// Preflight handling
		if c.Request.Method == http.MethodOptions && origin != "" {
			if !isAllowed(origin) {
				respondError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
				c.Abort()
				return
			}
			setCORSHeaders(c, origin)
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}

		if !isAllowed(origin) {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
			c.Abort()
			return
		}
		if origin != "" {
			setCORSHeaders(c, origin)
		}
		c.Next()
	}
}

func setCORSHeaders(c *gin.Context, origin string) {
	c.Header("Access-Control-Allow-Origin", origin)
	c.Header("Vary", "Origin")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
	c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
}
