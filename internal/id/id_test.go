package id

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Uniqueness(t *testing.T) {
	ids := make(map[string]bool)
	count := 1000

	for range count {
		id, err := Generate(PrefixBookmark)
		require.NoError(t, err)
		assert.False(t, ids[id], "ID should be unique: %s", id)
		ids[id] = true
	}

	assert.Len(t, ids, count)
}

func TestGenerate_Format(t *testing.T) {
	for _, prefix := range []string{PrefixBookmark, PrefixAnnotation, PrefixOutbox, PrefixAttempt} {
		t.Run(prefix, func(t *testing.T) {
			id, err := Generate(prefix)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(id, prefix+"-"))
			// NanoID default length is 21.
			assert.Len(t, id, len(prefix)+1+21)
		})
	}
}

func TestMustGenerate(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = MustGenerate(PrefixOutbox)
	})
}

func TestNewDeviceID(t *testing.T) {
	a := NewDeviceID()
	b := NewDeviceID()

	require.True(t, strings.HasPrefix(a, "urn:uuid:"))
	_, err := uuid.Parse(strings.TrimPrefix(a, "urn:uuid:"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
