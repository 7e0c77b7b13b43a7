package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const tenantIDKey contextKey = "tenant_id"

// SetTenantID stores the tenant identifier in the request context.
func SetTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

// GetTenantID reads the tenant identifier set by the tenant middleware.
func GetTenantID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(tenantIDKey).(string)
	return id, ok && id != ""
}
