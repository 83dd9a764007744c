package signin

import (
	"encoding/json/jsontext"
	"encoding/json/v2"
	"fmt"
	"net/url"
	"strings"

	"github.com/listenupapp/listenup-sync/internal/domain"
)

// RedirectPayload is the successful result of an external sign-in.
type RedirectPayload struct {
	AccessToken string
	// PatronInfo is the raw JSON patron document.
	PatronInfo []byte
}

// RedirectError is an explicit error returned by the identity provider.
type RedirectError struct {
	Problem domain.ProblemDocument
}

func (e *RedirectError) Error() string {
	return "signin: provider returned error: " + e.Problem.Error()
}

// ParseRedirect extracts the sign-in result from a redirect URL. OAuth carries it in the
// fragment, SAML in the query string. Both values are percent-encoded JSON.
func ParseRedirect(raw string, method domain.AuthMethod) (*RedirectPayload, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRedirect, err)
	}

	var params string
	switch method {
	case domain.AuthMethodOAuth:
		params = u.EscapedFragment()
	case domain.AuthMethodSAML:
		params = u.RawQuery
	default:
		return nil, fmt.Errorf("%w: method %q has no redirect", ErrMalformedRedirect, method)
	}

	values, err := url.ParseQuery(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRedirect, err)
	}

	if raw := values.Get("error"); raw != "" {
		return nil, &RedirectError{Problem: parseRedirectProblem(raw)}
	}

	token := values.Get("access_token")
	patron := values.Get("patron_info")
	if token == "" || patron == "" {
		return nil, fmt.Errorf("%w: access_token or patron_info missing", ErrIncompleteRedirect)
	}

	info := jsontext.Value(patron)
	if !info.IsValid() {
		return nil, fmt.Errorf("%w: patron_info is not JSON", ErrMalformedRedirect)
	}

	return &RedirectPayload{AccessToken: token, PatronInfo: []byte(info)}, nil
}

// parseRedirectProblem reads the error value, a JSON problem document or plain text.
func parseRedirectProblem(raw string) domain.ProblemDocument {
	var p domain.ProblemDocument
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return p
		}
	}
	return domain.ProblemDocument{Title: raw}
}

// matchesRedirectURI reports whether raw is a callback to want (scheme, host and path).
// An empty want accepts any URL.
func matchesRedirectURI(raw, want string) bool {
	if want == "" {
		return true
	}
	got, err := url.Parse(raw)
	if err != nil {
		return false
	}
	w, err := url.Parse(want)
	if err != nil {
		return false
	}
	return strings.EqualFold(got.Scheme, w.Scheme) &&
		strings.EqualFold(got.Host, w.Host) &&
		strings.TrimSuffix(got.Path, "/") == strings.TrimSuffix(w.Path, "/")
}

// authorizeURL appends the redirect URI the provider should call back.
func authorizeURL(base, redirectURI string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if redirectURI != "" {
		q := u.Query()
		q.Set("redirect_uri", redirectURI)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
