package domain

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentials_MarshalByKind(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		creds Credentials
	}{
		{"token", TokenCredentials{AuthToken: "abc", Barcode: "123", PIN: "9", Expiration: &exp}},
		{"barcode and pin", BarcodeAndPin{Barcode: "123", PIN: "4567"}},
		{"cookies", CookieCredentials{Cookies: []Cookie{{Name: "idp", Value: "v", Domain: "idp.example.org", Secure: true}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalCredentials(tt.creds)
			require.NoError(t, err)

			got, err := UnmarshalCredentials(data)
			require.NoError(t, err)
			assert.Equal(t, tt.creds.Kind(), got.Kind())
			assert.Equal(t, tt.creds, got)
		})
	}
}

func TestCredentials_PointerFormsStoreAsValues(t *testing.T) {
	data, err := MarshalCredentials(&BarcodeAndPin{Barcode: "1", PIN: "2"})
	require.NoError(t, err)

	got, err := UnmarshalCredentials(data)
	require.NoError(t, err)
	assert.Equal(t, BarcodeAndPin{Barcode: "1", PIN: "2"}, got)
}

func TestCredentials_EmptyAndUnknown(t *testing.T) {
	data, err := MarshalCredentials(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	got, err := UnmarshalCredentials(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = UnmarshalCredentials([]byte(`{"kind":"smartcard"}`))
	assert.Error(t, err)

	_, err = UnmarshalCredentials([]byte(`{"kind":"token"}`))
	assert.Error(t, err)
}

func TestTokenCredentials_Expired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, TokenCredentials{AuthToken: "a"}.Expired(now))
	assert.True(t, TokenCredentials{AuthToken: "a", Expiration: &past}.Expired(now))
	assert.False(t, TokenCredentials{AuthToken: "a", Expiration: &future}.Expired(now))
}

func TestCookie_HTTPConversion(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	in := &http.Cookie{Name: "SAMLSESSION", Value: "xyz", Domain: "idp.example.org", Path: "/", Expires: exp, HttpOnly: true}

	c := CookieFromHTTP(in)
	require.NotNil(t, c.Expires)
	assert.True(t, c.HTTPOnly)

	out := c.HTTP()
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Value, out.Value)
	assert.Equal(t, exp, out.Expires)
	assert.True(t, out.HttpOnly)
}

func TestAuthState(t *testing.T) {
	assert.False(t, AuthStateLoggedOut.HasCredentials())
	assert.True(t, AuthStateLoggedIn.HasCredentials())
	assert.True(t, AuthStateCredentialsStale.HasCredentials())
	assert.False(t, AuthState("bogus").Valid())

	var missing *DRMIdentity
	assert.False(t, missing.Complete())
	assert.False(t, (&DRMIdentity{DeviceID: "d"}).Complete())
	assert.True(t, (&DRMIdentity{DeviceID: "d", UserID: "u"}).Complete())
}
