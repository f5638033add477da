package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	defaultRoleClaim   = "role"
	defaultLocaleClaim = "locale"
	defaultEmailClaim  = "email"
)

// StaffAuthenticator maps a verified OIDC service identity onto the staff
// Identity model and enforces role requirements. It chains after RequireOIDC,
// which performs the actual token verification.
type StaffAuthenticator struct {
	roleClaim   string
	localeClaim string
}

// StaffOption customises StaffAuthenticator behaviour.
type StaffOption func(*StaffAuthenticator)

// WithRoleClaim overrides the claim used for role extraction.
func WithRoleClaim(claim string) StaffOption {
	return func(a *StaffAuthenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithLocaleClaim overrides the claim used to populate Identity.Locale.
func WithLocaleClaim(claim string) StaffOption {
	return func(a *StaffAuthenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.localeClaim = claim
		}
	}
}

// NewStaffAuthenticator constructs a StaffAuthenticator for middleware composition.
func NewStaffAuthenticator(opts ...StaffOption) *StaffAuthenticator {
	a := &StaffAuthenticator{
		roleClaim:   defaultRoleClaim,
		localeClaim: defaultLocaleClaim,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireRoles ensures the verified service identity carries one of the
// allowed roles and exposes it as an Identity for downstream handlers.
func (a *StaffAuthenticator) RequireRoles(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		role = normaliseRole(role)
		if role == "" {
			continue
		}
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			service, ok := ServiceIdentityFromContext(r.Context())
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}

			roleClaim := defaultRoleClaim
			localeClaim := defaultLocaleClaim
			if a != nil {
				roleClaim = a.roleClaim
				localeClaim = a.localeClaim
			}

			identity := &Identity{
				UID:    service.Subject,
				Email:  service.Email,
				Roles:  rolesFromClaims(service.Claims, roleClaim),
				Locale: claimAsString(service.Claims, localeClaim),
			}
			if identity.Email == "" {
				identity.Email = claimAsString(service.Claims, defaultEmailClaim)
			}

			if len(allowed) > 0 && !hasAllowedRole(identity.Roles, allowed) {
				respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func hasAllowedRole(identityRoles []string, allowed map[string]struct{}) bool {
	for _, role := range identityRoles {
		if _, ok := allowed[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

func rolesFromClaims(claims map[string]any, key string) []string {
	raw, ok := claims[key]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case string:
		role := normaliseRole(v)
		if role == "" {
			return nil
		}
		return []string{role}
	case []any:
		out := make([]string, 0, len(v))
		seen := make(map[string]struct{}, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				continue
			}
			role := normaliseRole(str)
			if role == "" {
				continue
			}
			if _, exists := seen[role]; exists {
				continue
			}
			seen[role] = struct{}{}
			out = append(out, role)
		}
		return out
	case []string:
		out := make([]string, 0, len(v))
		seen := make(map[string]struct{}, len(v))
		for _, item := range v {
			role := normaliseRole(item)
			if role == "" {
				continue
			}
			if _, exists := seen[role]; exists {
				continue
			}
			seen[role] = struct{}{}
			out = append(out, role)
		}
		return out
	default:
		return nil
	}
}

func claimAsString(claims map[string]any, key string) string {
	raw, ok := claims[key]
	if !ok {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	default:
		return ""
	}
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}
