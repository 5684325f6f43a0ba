package domain

import "regexp"

// tenantIDPattern keeps tenant ids usable as a single NATS subject token and
// as a cache key prefix.
var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidTenantID reports whether id can name a tenant.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}
