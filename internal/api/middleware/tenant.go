package middleware

import (
	"net/http"

	"github.com/nekazari/intelligence/internal/api/response"
)

// TenantHeader carries the tenant identity on every scoped API request.
// Authentication itself is handled upstream (gateway/Keycloak); this service
// only tags requests with the already-verified tenant.
const TenantHeader = "X-Tenant-ID"

// RequireTenant extracts the tenant from the X-Tenant-ID header and sets it
// in the request context. Requests without a tenant are rejected before any
// job state is touched.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(TenantHeader)
		if tenantID == "" {
			response.Error(w, http.StatusBadRequest,
				"MISSING_TENANT", "X-Tenant-ID header is required", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(SetTenantID(r.Context(), tenantID)))
	})
}
