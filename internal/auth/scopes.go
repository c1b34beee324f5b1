package auth

// Known OAuth scopes used by the sync API.
const (
	ScopeSyncRead         = "sync:read"
	ScopeSyncWrite        = "sync:write"
	ScopeSubscriptionRead = "subscription:read"
)

// DeviceScopes are the scopes granted to an authenticated device.
func DeviceScopes() []string {
	return []string{ScopeSyncRead, ScopeSyncWrite, ScopeSubscriptionRead}
}
