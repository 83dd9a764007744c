package domain

// AnnotationServiceRel is the link relation advertising the annotations endpoint.
const AnnotationServiceRel = "http://www.w3.org/ns/oa#annotationService"

// UserProfile is the patron profile document returned by a library's profile endpoint.
type UserProfile struct {
	AuthorizationIdentifier string          `json:"simplified:authorization_identifier,omitempty"`
	Settings                ProfileSettings `json:"settings"`
	DRM                     []DRMLicensor   `json:"drm,omitempty"`
	Links                   []ProfileLink   `json:"links,omitempty"`

	// AnnotationsURL is resolved from Links after decoding.
	AnnotationsURL string `json:"-"`
}

// ProfileSettings holds the patron's server-side preferences.
type ProfileSettings struct {
	SynchronizeAnnotations *bool `json:"simplified:synchronize_annotations,omitempty"`
}

// DRMLicensor names the DRM vendor and the token used for device activation.
type DRMLicensor struct {
	Vendor      string `json:"drm:vendor"`
	ClientToken string `json:"drm:clientToken,omitempty"`
}

// ProfileLink is one entry of the profile's links array.
type ProfileLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// ResolveLinks fills derived fields from the links array.
func (p *UserProfile) ResolveLinks() {
	for _, l := range p.Links {
		if l.Rel == AnnotationServiceRel && l.Href != "" {
			p.AnnotationsURL = l.Href
			return
		}
	}
}

// SyncPermission returns the patron's annotation sync setting, or nil when the server
// does not state it.
func (p *UserProfile) SyncPermission() *bool {
	if p == nil {
		return nil
	}
	return p.Settings.SynchronizeAnnotations
}

// Licensor returns the first DRM licensor, if any.
func (p *UserProfile) Licensor() (DRMLicensor, bool) {
	if p == nil || len(p.DRM) == 0 {
		return DRMLicensor{}, false
	}
	return p.DRM[0], true
}
