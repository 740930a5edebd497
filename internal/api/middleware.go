package api

import (
	"context"
	"net/http"
	"strings"
)

// Principal is the authenticated caller. Authentication itself happens at the
// platform gateway, which forwards identity headers to this service.
type Principal struct {
	UserID string
	OrgID  string
	Roles  []string
}

// HasRole reports whether the principal carries the named role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type principalKey struct{}

func principalFrom(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

// requireAuth rejects requests without a forwarded principal.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeErrorBody(w, http.StatusUnauthorized, "unauthenticated", "request is missing an authenticated principal")
			return
		}
		p := Principal{
			UserID: userID,
			OrgID:  r.Header.Get("X-Org-ID"),
		}
		if raw := r.Header.Get("X-Roles"); raw != "" {
			for _, role := range strings.Split(raw, ",") {
				if trimmed := strings.TrimSpace(role); trimmed != "" {
					p.Roles = append(p.Roles, trimmed)
				}
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// requireAdmin rejects principals lacking the platform-admin role. All
// operations/infrastructure endpoints sit behind this gate.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := principalFrom(r.Context())
		if !p.HasRole(s.cfg.AdminRole) {
			writeErrorBody(w, http.StatusForbidden, "forbidden", "platform admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
