package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestNew_Matching(t *testing.T) {
	tests := []struct {
		lang string
		want language.Tag
	}{
		{"", language.English},
		{"en-GB", language.English},
		{"es-MX", language.Spanish},
		{"fr", language.French},
		{"de", language.English},
		{"not a tag!", language.English},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.lang).Language())
		})
	}
}

func TestSprintf(t *testing.T) {
	assert.Equal(t, "Sign-in failed", New("en").Sprintf(SignInFailedTitle))
	assert.Equal(t, "No pudimos iniciar tu sesión en Springfield. Inténtalo de nuevo.",
		New("es").Sprintf(SignInFailedMessage, "Springfield"))
}

func TestCatalogComplete(t *testing.T) {
	for tag, msgs := range messages {
		for key := range messages[language.English] {
			_, ok := msgs[key]
			assert.True(t, ok, "%s misses %s", tag, key)
		}
	}
}
