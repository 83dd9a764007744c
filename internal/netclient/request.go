// Package netclient builds authenticated requests for a library account and executes them,
// turning 401s from the library's own domain into a stale-credentials transition.
package netclient

import (
	"context"
	"io"
	"net/http"

	"github.com/listenupapp/listenup-sync/internal/domain"
)

// CredentialSource supplies the material a request is signed with.
// *credentials.Account implements it.
type CredentialSource interface {
	AuthToken() string
	BarcodeAndPin() (barcode, pin string, ok bool)
}

// RequestBuilder creates outbound requests for one library.
type RequestBuilder struct {
	method    domain.AuthMethod
	userAgent string
}

// NewRequestBuilder creates a builder that signs requests according to method.
func NewRequestBuilder(method domain.AuthMethod, userAgent string) *RequestBuilder {
	return &RequestBuilder{method: method, userAgent: userAgent}
}

// Method returns the authentication method requests are signed for.
func (b *RequestBuilder) Method() domain.AuthMethod { return b.method }

// Build creates a request and applies credentials from src, if any.
//
// Token, OAuth and SAML libraries get "Authorization: Bearer"; basic libraries get HTTP
// basic auth with barcode and PIN. Missing credentials leave the request unsigned.
func (b *RequestBuilder) Build(ctx context.Context, method, url string, body io.Reader, src CredentialSource) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json, application/problem+json")
	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	b.Authorize(req, src)
	return req, nil
}

// Authorize applies credentials from src to an existing request.
func (b *RequestBuilder) Authorize(req *http.Request, src CredentialSource) {
	if src == nil {
		return
	}

	switch {
	case b.method.UsesBearer():
		if token := src.AuthToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	case b.method == domain.AuthMethodBasic:
		if barcode, pin, ok := src.BarcodeAndPin(); ok {
			req.SetBasicAuth(barcode, pin)
		}
	}
}

// BuildBasic creates a request signed with explicit basic credentials. Used for the token
// exchange and for validating freshly typed barcode/PIN pairs before they are stored.
func (b *RequestBuilder) BuildBasic(ctx context.Context, method, url string, body io.Reader, barcode, pin string) (*http.Request, error) {
	req, err := b.Build(ctx, method, url, body, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(barcode, pin)
	return req, nil
}

// BuildBearer creates a request signed with an explicit bearer token.
func (b *RequestBuilder) BuildBearer(ctx context.Context, method, url string, body io.Reader, token string) (*http.Request, error) {
	req, err := b.Build(ctx, method, url, body, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}
