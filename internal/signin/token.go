package signin

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/errors"
	"github.com/listenupapp/listenup-sync/internal/netclient"
)

// tokenResponse is the body of a successful token exchange.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// exchangeToken trades a barcode and PIN for a bearer token at the library's token endpoint.
func (o *Orchestrator) exchangeToken(ctx context.Context, barcode, pin string) (*domain.TokenCredentials, error) {
	req, err := o.builder.BuildBasic(ctx, http.MethodPost, o.library.TokenURL, http.NoBody, barcode, pin)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "build token request")
	}

	// No StaleMarker: a rejected exchange says nothing about the stored session.
	resp, err := o.net.Do(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	if resp.Unauthorized() {
		return nil, invalidCredentials(resp)
	}
	if !resp.OK() {
		return nil, o.net.ProtocolError(resp, "token exchange")
	}

	var tr tokenResponse
	if err := netclient.ReadJSON(resp, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, errors.Wrap(ErrMalformedToken, errors.CodeProtocol, "token exchange")
	}

	creds := &domain.TokenCredentials{
		AuthToken:  tr.AccessToken,
		Barcode:    barcode,
		PIN:        pin,
		Expiration: tokenExpiry(tr.AccessToken, tr.ExpiresIn, o.now()),
	}
	return creds, nil
}

// tokenExpiry prefers the JWT exp claim and falls back to expires_in. Opaque tokens
// without expires_in have no known expiry.
func tokenExpiry(token string, expiresIn int64, now time.Time) *time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.UTC()
		return &exp
	}
	if expiresIn > 0 {
		exp := now.Add(time.Duration(expiresIn) * time.Second).UTC()
		return &exp
	}
	return nil
}

// invalidCredentials builds the error for a rejected sign-in, keeping the problem document.
func invalidCredentials(resp *netclient.Response) error {
	err := errors.InvalidCredentials("library rejected credentials (%d)", resp.Status)
	if resp.Problem != nil {
		return err.WithDetails(resp.Problem).WithCause(resp.Problem)
	}
	return err
}
