package api

import (
	"context"
	"net/http"
	"strings"

	"mediavault/internal/models"
)

type contextKey string

const userContextKey contextKey = "authenticatedUser"

// rolesAdminOnly guards the mutating administration surfaces.
var rolesAdminOnly = []string{models.RoleAdmin}

// ContextWithUser stores the authenticated user in the provided context.
func ContextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the authenticated user from context if present.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userContextKey).(models.User)
	return user, ok
}

// ExtractToken returns the bearer token from the Authorization header, or
// the empty string when none is presented.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// IdentityMiddleware verifies the bearer token when one is presented and
// attaches the resolved local user to the request context. It never rejects:
// a missing, invalid, or expired token simply leaves the context without a
// user, and the handler's own requirements decide whether that is fatal.
// The claim's subject is resolved against the store so a stale token for a
// deleted or deactivated account carries no identity.
func (h *Handler) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractToken(r)
		if token == "" || h.Tokens == nil {
			next.ServeHTTP(w, r)
			return
		}
		claim, err := h.Tokens.Verify(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		user, exists := h.Store.GetUser(claim.Subject)
		if !exists || !user.Active {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func (h *Handler) requireAuthenticatedUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		h.writeReason(w, r, http.StatusUnauthorized, reasonAuthRequired, "")
		return models.User{}, false
	}
	return user, true
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, roles ...string) (models.User, bool) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return models.User{}, false
	}
	if len(roles) == 0 || user.HasRole(roles...) {
		return user, true
	}
	h.writeReason(w, r, http.StatusForbidden, reasonForbidden, "")
	return models.User{}, false
}
