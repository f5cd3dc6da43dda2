package domain

// ProviderType identifies a remote calendar backend.
type ProviderType string

const (
	// ProviderGoogle is Google Calendar (OAuth2 + Calendar v3 REST API).
	ProviderGoogle ProviderType = "google"
	// ProviderCalDAV is a generic CalDAV server (Nextcloud, Fastmail, self-hosted).
	ProviderCalDAV ProviderType = "caldav"
)

func (p ProviderType) String() string { return string(p) }

// IsValid returns true if the provider type is recognized.
func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderGoogle, ProviderCalDAV:
		return true
	default:
		return false
	}
}

// RequiresOAuth returns true if the provider authenticates with OAuth2
// rather than basic credentials.
func (p ProviderType) RequiresOAuth() bool {
	return p == ProviderGoogle
}

// AllProviderTypes returns all supported provider types.
func AllProviderTypes() []ProviderType {
	return []ProviderType{ProviderGoogle, ProviderCalDAV}
}
