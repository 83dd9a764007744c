// Package auth issues and verifies the reference annotation server's patron credentials:
// Argon2id PIN hashes and PASETO v4.local bearer tokens.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadOrGenerateKey returns the hex-encoded PASETO v4 key stored in <dataPath>/server.key,
// generating and saving one on first use.
func LoadOrGenerateKey(dataPath string) (string, error) {
	keyPath := filepath.Join(dataPath, "server.key")

	//#nosec G304 -- key path is derived from the configured data path
	if keyBytes, err := os.ReadFile(keyPath); err == nil {
		keyHex := strings.TrimSpace(string(keyBytes))
		if len(keyHex) != keyHexSize {
			return "", fmt.Errorf("invalid server key length: expected %d hex chars, got %d", keyHexSize, len(keyHex))
		}
		if _, err := hex.DecodeString(keyHex); err != nil {
			return "", fmt.Errorf("invalid server key format: not valid hex: %w", err)
		}
		return keyHex, nil
	}

	key := make([]byte, keyBytesSize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate server key: %w", err)
	}
	keyHex := hex.EncodeToString(key)

	if err := os.MkdirAll(dataPath, 0o700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(keyHex), 0o600); err != nil {
		return "", fmt.Errorf("failed to save server key: %w", err)
	}
	return keyHex, nil
}
