package tenant

import (
	"strings"

	"github.com/google/uuid"
)

// ShortID returns the first 8 hexadecimal characters of a UUID (without dashes).
func ShortID(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return hex[:8]
}

// BuildBasePrefix returns `<envKey>/tenant-<shortTenantId>/`, the object storage prefix of a tenant.
func BuildBasePrefix(envKey string, tenantID uuid.UUID) string {
	envKey = strings.TrimSuffix(strings.TrimSpace(envKey), "/")
	return envKey + "/tenant-" + ShortID(tenantID) + "/"
}

// NewSpace resolves the Space of a tenant for the given environment.
func NewSpace(envKey string, tenantID uuid.UUID) Space {
	return Space{TenantID: tenantID, BasePrefix: BuildBasePrefix(envKey, tenantID)}
}
