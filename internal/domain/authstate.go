package domain

// AuthState is the lifecycle state of a library account's session.
//
//	loggedOut -> loggedIn -> credentialsStale -> loggedIn | loggedOut
//
// credentialsStale means the bearer token expired while the DRM activation is still
// presumed valid, so re-authentication can skip device activation.
type AuthState string

// Auth states.
const (
	AuthStateLoggedOut        AuthState = "loggedOut"
	AuthStateLoggedIn         AuthState = "loggedIn"
	AuthStateCredentialsStale AuthState = "credentialsStale"
)

// HasCredentials reports whether the state implies stored credentials.
func (s AuthState) HasCredentials() bool {
	return s == AuthStateLoggedIn || s == AuthStateCredentialsStale
}

// Valid reports whether s is a known state.
func (s AuthState) Valid() bool {
	switch s {
	case AuthStateLoggedOut, AuthStateLoggedIn, AuthStateCredentialsStale:
		return true
	default:
		return false
	}
}

// DRMIdentity is the device/user pair recorded after a successful DRM activation.
type DRMIdentity struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id"`
	Licensor string `json:"licensor,omitempty"`
}

// Complete reports whether both halves of the pair are recorded.
func (d *DRMIdentity) Complete() bool {
	return d != nil && d.DeviceID != "" && d.UserID != ""
}
