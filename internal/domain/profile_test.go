package domain

import (
	"encoding/json/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserProfile_Decode(t *testing.T) {
	body := `{
		"simplified:authorization_identifier": "23333000000001",
		"settings": {"simplified:synchronize_annotations": false},
		"drm": [{"drm:vendor": "NYPL", "drm:clientToken": "NYNYPL|1|tok"}],
		"links": [
			{"rel": "self", "href": "https://lib.example.org/patrons/me"},
			{"rel": "http://www.w3.org/ns/oa#annotationService", "href": "https://lib.example.org/annotations/", "type": "application/ld+json"}
		]
	}`

	var p UserProfile
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	p.ResolveLinks()

	assert.Equal(t, "https://lib.example.org/annotations/", p.AnnotationsURL)
	require.NotNil(t, p.SyncPermission())
	assert.False(t, *p.SyncPermission())

	lic, ok := p.Licensor()
	require.True(t, ok)
	assert.Equal(t, "NYPL", lic.Vendor)
	assert.Equal(t, "NYNYPL|1|tok", lic.ClientToken)
}

func TestUserProfile_Missing(t *testing.T) {
	var p *UserProfile
	assert.Nil(t, p.SyncPermission())
	_, ok := p.Licensor()
	assert.False(t, ok)

	acct := &LibraryAccount{}
	assert.Empty(t, acct.AnnotationsEndpoint(nil))
	acct.AnnotationsURL = "https://pinned.example.org/annotations"
	assert.Equal(t, acct.AnnotationsURL, acct.AnnotationsEndpoint(&UserProfile{AnnotationsURL: "https://other"}))
}

func TestProblemDocument(t *testing.T) {
	p := &ProblemDocument{Type: ProblemTypeCredentialsInvalid, Title: "Invalid credentials", Detail: "PIN rejected"}
	assert.True(t, p.InvalidCredentials())
	assert.Equal(t, "Invalid credentials: PIN rejected", p.Error())

	var missing *ProblemDocument
	assert.False(t, missing.InvalidCredentials())
}
