// Package id generates identifiers for local bookmarks, server annotations and devices.
package id

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes used across the module.
const (
	PrefixBookmark   = "bm"   // local tracking ID of a bookmark row
	PrefixAnnotation = "anno" // server-side annotation ID (reference server)
	PrefixOutbox     = "obx"  // queued offline request
	PrefixAttempt    = "auth" // sign-in attempt, used for log correlation
)

// Generate creates a prefixed NanoID, e.g. "bm-V1StGXR8_Z5jdHi6B-myT".
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics when the system runs out of entropy.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// NewDeviceID returns a fresh device identifier. Annotations carry it in their body so
// other devices can tell which reader produced a bookmark.
func NewDeviceID() string {
	return "urn:uuid:" + uuid.NewString()
}
