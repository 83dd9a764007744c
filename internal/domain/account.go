// Package domain holds the types shared by the credential store, sign-in flow and bookmark sync.
package domain

// AuthMethod selects how a library account authenticates.
type AuthMethod string

// Authentication methods a library may advertise.
const (
	AuthMethodNone  AuthMethod = "none"
	AuthMethodBasic AuthMethod = "basic"
	AuthMethodToken AuthMethod = "token" // barcode/pin exchanged for a bearer token
	AuthMethodOAuth AuthMethod = "oauth" // OAuth intermediary, redirect payload in the URL fragment
	AuthMethodSAML  AuthMethod = "saml"  // SAML IdP, redirect payload in the query string
)

// UsesBearer reports whether requests authenticate with "Authorization: Bearer".
func (m AuthMethod) UsesBearer() bool {
	switch m {
	case AuthMethodToken, AuthMethodOAuth, AuthMethodSAML:
		return true
	default:
		return false
	}
}

// IsExternal reports whether sign-in goes through an external agent and a redirect.
func (m AuthMethod) IsExternal() bool {
	return m == AuthMethodOAuth || m == AuthMethodSAML
}

// RequiresCredentials reports whether the method needs any stored credentials at all.
func (m AuthMethod) RequiresCredentials() bool {
	return m != AuthMethodNone
}

// LibraryAccount describes one library the reader is (or can be) signed in to.
// Loaded from the accounts file; URLs are absolute.
type LibraryAccount struct {
	ID             string     `yaml:"id" json:"id" validate:"required"`
	Name           string     `yaml:"name" json:"name"`
	AuthMethod     AuthMethod `yaml:"auth_method" json:"auth_method" validate:"required,oneof=none basic token oauth saml"`
	ProfileURL     string     `yaml:"profile_url" json:"profile_url" validate:"required,url"`
	TokenURL       string     `yaml:"token_url" json:"token_url" validate:"required_if=AuthMethod token,omitempty,url"`
	AuthorizeURL   string     `yaml:"authorize_url" json:"authorize_url" validate:"omitempty,url"`
	RedirectURI    string     `yaml:"redirect_uri" json:"redirect_uri" validate:"omitempty,url"`
	SignOutURL     string     `yaml:"sign_out_url" json:"sign_out_url" validate:"omitempty,url"`
	AnnotationsURL string     `yaml:"annotations_url" json:"annotations_url" validate:"omitempty,url"`
	SupportsDRM    bool       `yaml:"supports_drm" json:"supports_drm"`
}

// AnnotationsEndpoint returns the configured annotations URL, or the one discovered in the
// patron profile when the accounts file does not pin it.
func (a *LibraryAccount) AnnotationsEndpoint(profile *UserProfile) string {
	if a.AnnotationsURL != "" {
		return a.AnnotationsURL
	}
	if profile != nil {
		return profile.AnnotationsURL
	}
	return ""
}
