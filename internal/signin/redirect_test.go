package signin

import (
	"net/url"
	"testing"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRedirect(t *testing.T) {
	patron := url.QueryEscape(`{"name":"Reader","id":7}`)

	tests := []struct {
		name    string
		raw     string
		method  domain.AuthMethod
		token   string
		patron  string
		wantErr error
		title   string
	}{
		{
			name:   "oauth fragment",
			raw:    "app://auth/callback#access_token=abc.def&patron_info=" + patron,
			method: domain.AuthMethodOAuth,
			token:  "abc.def",
			patron: `{"name":"Reader","id":7}`,
		},
		{
			name:   "saml query",
			raw:    "app://auth/callback?access_token=tok%2B1&patron_info=" + patron,
			method: domain.AuthMethodSAML,
			token:  "tok+1",
			patron: `{"name":"Reader","id":7}`,
		},
		{
			name:    "saml ignores fragment",
			raw:     "app://auth/callback#access_token=abc&patron_info=" + patron,
			method:  domain.AuthMethodSAML,
			wantErr: ErrIncompleteRedirect,
		},
		{
			name:    "missing patron info",
			raw:     "app://auth/callback#access_token=abc",
			method:  domain.AuthMethodOAuth,
			wantErr: ErrIncompleteRedirect,
		},
		{
			name:    "patron info not json",
			raw:     "app://auth/callback#access_token=abc&patron_info=nope",
			method:  domain.AuthMethodOAuth,
			wantErr: ErrMalformedRedirect,
		},
		{
			name:    "basic has no redirect",
			raw:     "app://auth/callback",
			method:  domain.AuthMethodBasic,
			wantErr: ErrMalformedRedirect,
		},
		{
			name:   "error document",
			raw:    "app://auth/callback#error=" + url.QueryEscape(`{"title":"X","detail":"Card blocked"}`),
			method: domain.AuthMethodOAuth,
			title:  "X",
		},
		{
			name:   "plain error",
			raw:    "app://auth/callback?error=access_denied",
			method: domain.AuthMethodSAML,
			title:  "access_denied",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRedirect(tt.raw, tt.method)

			switch {
			case tt.title != "":
				var redirectErr *RedirectError
				require.ErrorAs(t, err, &redirectErr)
				assert.Equal(t, tt.title, redirectErr.Problem.Title)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.token, got.AccessToken)
				assert.JSONEq(t, tt.patron, string(got.PatronInfo))
			}
		})
	}
}

func TestMatchesRedirectURI(t *testing.T) {
	assert.True(t, matchesRedirectURI("app://auth/callback#x=1", "app://auth/callback"))
	assert.True(t, matchesRedirectURI("APP://auth/callback/?a=b", "app://auth/callback"))
	assert.False(t, matchesRedirectURI("https://evil.example/callback", "app://auth/callback"))
	assert.True(t, matchesRedirectURI("anything", ""))
}

func TestAuthorizeURL(t *testing.T) {
	got, err := authorizeURL("https://lib.example/oauth?provider=x", "app://auth/callback")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "x", u.Query().Get("provider"))
	assert.Equal(t, "app://auth/callback", u.Query().Get("redirect_uri"))
}
