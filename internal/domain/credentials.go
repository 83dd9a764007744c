package domain

import (
	"encoding/json/v2"
	"fmt"
	"net/http"
	"time"
)

// CredentialsKind discriminates the Credentials union.
type CredentialsKind string

// Credentials variants.
const (
	CredentialsKindToken         CredentialsKind = "token"
	CredentialsKindBarcodeAndPin CredentialsKind = "barcode_and_pin"
	CredentialsKindCookies       CredentialsKind = "cookies"
)

// Credentials is the authentication material of a library account. Exactly one variant is
// active per account; setting a new value replaces the previous one.
type Credentials interface {
	Kind() CredentialsKind
}

// TokenCredentials is produced by OAuth, SAML and token-auth sign-in.
type TokenCredentials struct {
	AuthToken  string     `json:"auth_token"`
	Barcode    string     `json:"barcode,omitempty"`
	PIN        string     `json:"pin,omitempty"`
	Expiration *time.Time `json:"expiration,omitempty"`
}

// Kind implements Credentials.
func (TokenCredentials) Kind() CredentialsKind { return CredentialsKindToken }

// Expired reports whether the token carries an expiration that has passed.
func (c TokenCredentials) Expired(now time.Time) bool {
	return c.Expiration != nil && !now.Before(*c.Expiration)
}

// BarcodeAndPin is used by basic auth.
type BarcodeAndPin struct {
	Barcode string `json:"barcode"`
	PIN     string `json:"pin"`
}

// Kind implements Credentials.
func (BarcodeAndPin) Kind() CredentialsKind { return CredentialsKindBarcodeAndPin }

// CookieCredentials is an IdP session carried as cookies.
type CookieCredentials struct {
	Cookies []Cookie `json:"cookies"`
}

// Kind implements Credentials.
func (CookieCredentials) Kind() CredentialsKind { return CredentialsKindCookies }

// Cookie is the persisted form of an http.Cookie.
type Cookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain,omitempty"`
	Path     string     `json:"path,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
	Secure   bool       `json:"secure,omitzero"`
	HTTPOnly bool       `json:"http_only,omitzero"`
}

// CookieFromHTTP converts a cookie received over the wire.
func CookieFromHTTP(c *http.Cookie) Cookie {
	out := Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
	}
	if !c.Expires.IsZero() {
		exp := c.Expires
		out.Expires = &exp
	}
	return out
}

// HTTP converts the cookie back for a cookie jar.
func (c Cookie) HTTP() *http.Cookie {
	out := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if c.Expires != nil {
		out.Expires = *c.Expires
	}
	return out
}

// storedCredentials is the tagged JSON form used for persistence.
type storedCredentials struct {
	Kind          CredentialsKind    `json:"kind"`
	Token         *TokenCredentials  `json:"token,omitempty"`
	BarcodeAndPin *BarcodeAndPin     `json:"barcode_and_pin,omitempty"`
	Cookies       *CookieCredentials `json:"cookies,omitempty"`
}

// MarshalCredentials encodes credentials with an explicit kind discriminant.
// A nil value encodes as nil bytes.
func MarshalCredentials(c Credentials) ([]byte, error) {
	if c == nil {
		return nil, nil
	}

	stored := storedCredentials{Kind: c.Kind()}
	switch v := c.(type) {
	case TokenCredentials:
		stored.Token = &v
	case *TokenCredentials:
		stored.Token = v
	case BarcodeAndPin:
		stored.BarcodeAndPin = &v
	case *BarcodeAndPin:
		stored.BarcodeAndPin = v
	case CookieCredentials:
		stored.Cookies = &v
	case *CookieCredentials:
		stored.Cookies = v
	default:
		return nil, fmt.Errorf("unsupported credentials type %T", c)
	}
	return json.Marshal(stored)
}

// UnmarshalCredentials decodes the output of MarshalCredentials. Empty input yields nil.
func UnmarshalCredentials(data []byte) (Credentials, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var stored storedCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}

	switch stored.Kind {
	case CredentialsKindToken:
		if stored.Token == nil {
			return nil, fmt.Errorf("credentials kind %q without payload", stored.Kind)
		}
		return *stored.Token, nil
	case CredentialsKindBarcodeAndPin:
		if stored.BarcodeAndPin == nil {
			return nil, fmt.Errorf("credentials kind %q without payload", stored.Kind)
		}
		return *stored.BarcodeAndPin, nil
	case CredentialsKindCookies:
		if stored.Cookies == nil {
			return nil, fmt.Errorf("credentials kind %q without payload", stored.Kind)
		}
		return *stored.Cookies, nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown credentials kind %q", stored.Kind)
	}
}
