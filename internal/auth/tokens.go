package auth

import (
	"encoding/hex"
	"encoding/json/v2"
	"errors"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"

	"github.com/listenupapp/listenup-sync/internal/id"
)

const (
	tokenIssuer   = "listenup-annoserver"
	tokenAudience = "listenup-sync"

	// PASETO v4 symmetric key requirements.
	keyBytesSize = 32
	keyHexSize   = 64
)

// ErrInvalidToken is returned for tokens that fail decryption or claim validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// TokenService issues and verifies patron bearer tokens.
type TokenService struct {
	symmetricKey paseto.V4SymmetricKey
	duration     time.Duration
	now          func() time.Time
}

// NewTokenService creates a token service from a hex-encoded 32-byte key.
func NewTokenService(keyHex string, duration time.Duration) (*TokenService, error) {
	if len(keyHex) != keyHexSize {
		return nil, fmt.Errorf("PASETO v4 key must be exactly %d hex characters (%d bytes), got %d", keyHexSize, keyBytesSize, len(keyHex))
	}
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string for PASETO key: %w", err)
	}

	key, err := paseto.V4SymmetricKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create PASETO symmetric key: %w", err)
	}

	return &TokenService{symmetricKey: key, duration: duration, now: time.Now}, nil
}

// Issue creates a v4.local token for a patron of libraryID.
func (s *TokenService) Issue(libraryID, barcode string) (string, error) {
	now := s.now()

	token := paseto.NewToken()
	token.SetIssuer(tokenIssuer)
	token.SetSubject(barcode)
	token.SetAudience(tokenAudience)
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetExpiration(now.Add(s.duration))

	tokenID, err := id.Generate("token")
	if err != nil {
		return "", fmt.Errorf("generate token ID: %w", err)
	}
	token.SetJti(tokenID)

	//nolint:errcheck // Token.Set only errors on unencodable values
	_ = token.Set("barcode", barcode)
	//nolint:errcheck // Token.Set only errors on unencodable values
	_ = token.Set("library_id", libraryID)

	return token.V4Encrypt(s.symmetricKey, nil), nil
}

// Verify decrypts a token and checks audience, issuer and validity window.
func (s *TokenService) Verify(tokenString string) (*PatronClaims, error) {
	parser := paseto.NewParser()
	parser.AddRule(paseto.ForAudience(tokenAudience))
	parser.AddRule(paseto.IssuedBy(tokenIssuer))
	parser.AddRule(paseto.NotExpired())
	parser.AddRule(paseto.ValidAt(s.now()))

	token, err := parser.ParseV4Local(s.symmetricKey, tokenString, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims PatronClaims
	if err := json.Unmarshal(token.ClaimsJSON(), &claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	return &claims, nil
}

// Duration returns the token lifetime.
func (s *TokenService) Duration() time.Duration {
	return s.duration
}
