package auth

import (
	"time"
)

// PatronClaims are the claims inside an annotation server bearer token. v4.local tokens are
// encrypted, so clients cannot read them.
type PatronClaims struct {
	Barcode string `json:"barcode"`
	// LibraryID scopes the token to one library served by the reference server.
	LibraryID string `json:"library_id"`

	Issuer     string    `json:"iss"`
	Subject    string    `json:"sub"`
	Audience   string    `json:"aud"`
	Expiration time.Time `json:"exp"`
	NotBefore  time.Time `json:"nbf"`
	IssuedAt   time.Time `json:"iat"`
	TokenID    string    `json:"jti"`
}
