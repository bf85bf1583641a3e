package middleware

import (
	"context"
	"net/http"

	"agentdesk/internal/models"
)

type AdminStore interface {
	Access(ctx context.Context, userID string) (models.AdminAccess, error)
	HasRole(ctx context.Context, userID string, role models.AdminRole) (bool, error)
}

type denial struct {
	status  int
	code    string
	message string
}

// RequireAdmin lets super admins through and any admin holding role. An
// empty role restricts the route to super admins.
func RequireAdmin(adminStore AdminStore, role models.AdminRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
				return
			}
			if d := authorize(r.Context(), adminStore, userID, role); d != nil {
				writeError(w, d.status, d.code, d.message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authorize(ctx context.Context, adminStore AdminStore, userID string, role models.AdminRole) *denial {
	access, err := adminStore.Access(ctx, userID)
	switch {
	case err != nil:
		return &denial{http.StatusInternalServerError, "internal_error", "unable to verify admin"}
	case !access.IsAdmin:
		return &denial{http.StatusForbidden, "forbidden", "admin privileges required"}
	case access.IsSuper:
		return nil
	case role == "":
		return &denial{http.StatusForbidden, "forbidden", "super admin privileges required"}
	}
	granted, err := adminStore.HasRole(ctx, userID, role)
	if err != nil {
		return &denial{http.StatusInternalServerError, "internal_error", "unable to verify role"}
	}
	if !granted {
		return &denial{http.StatusForbidden, "forbidden", "missing required role " + string(role)}
	}
	return nil
}
