package annoserver

import (
	"bytes"
	"encoding/json/v2"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/listenupapp/listenup-sync/internal/auth"
	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/http/response"
	"github.com/listenupapp/listenup-sync/internal/syncmap"
)

// DRMVendor is the licensor name advertised in patron profiles.
const DRMVendor = "ListenUp Reference DRM"

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("annoserver: unauthenticated")
	ErrUnknownPatron   = errors.New("annoserver: unknown patron")
)

// PatronSeed is one entry of the patrons file.
type PatronSeed struct {
	Barcode string `yaml:"barcode"`
	PIN     string `yaml:"pin"`
	Name    string `yaml:"name"`
	// SyncAnnotations is the initial sync setting. Absent means unset in the profile.
	SyncAnnotations *bool `yaml:"sync_annotations"`
	// DRM adds a licensor with a client token to the profile.
	DRM bool `yaml:"drm"`
}

// Patron is a library card holder. Values are replaced, never mutated.
type Patron struct {
	Barcode         string
	Name            string
	PINHash         string
	SyncAnnotations *bool
	DRMClientToken  string
}

// Directory holds the server's patrons.
type Directory struct {
	patrons *syncmap.Map[string, *Patron]
}

// NewDirectory hashes the seed PINs and builds a directory.
func NewDirectory(seeds []PatronSeed) (*Directory, error) {
	d := &Directory{patrons: syncmap.New[string, *Patron]()}
	for _, seed := range seeds {
		if seed.Barcode == "" {
			return nil, errors.New("patron without barcode")
		}
		hash, err := auth.HashPIN(seed.PIN)
		if err != nil {
			return nil, fmt.Errorf("patron %s: %w", seed.Barcode, err)
		}
		p := &Patron{
			Barcode:         seed.Barcode,
			Name:            seed.Name,
			PINHash:         hash,
			SyncAnnotations: seed.SyncAnnotations,
		}
		if seed.DRM {
			p.DRMClientToken = seed.Barcode + "|" + hash[len(hash)-12:]
		}
		if _, loaded := d.patrons.LoadOrStore(seed.Barcode, p); loaded {
			return nil, fmt.Errorf("duplicate patron %s", seed.Barcode)
		}
	}
	return d, nil
}

// LoadPatrons reads a YAML patrons file:
//
//	patrons:
//	  - barcode: "23333999"
//	    pin: "0000"
//	    sync_annotations: true
func LoadPatrons(path string) ([]PatronSeed, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- patrons file path is user supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read patrons file: %w", err)
	}

	var doc struct {
		Patrons []PatronSeed `yaml:"patrons"`
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse patrons file %s: %w", path, err)
	}
	return doc.Patrons, nil
}

// Get returns the patron with barcode.
func (d *Directory) Get(barcode string) (*Patron, error) {
	p, ok := d.patrons.Load(barcode)
	if !ok {
		return nil, ErrUnknownPatron
	}
	return p, nil
}

// Authenticate checks a barcode and PIN.
func (d *Directory) Authenticate(barcode, pin string) (*Patron, error) {
	p, err := d.Get(barcode)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if !auth.VerifyPIN(p.PINHash, pin) {
		return nil, ErrUnauthenticated
	}
	return p, nil
}

// SetSyncPermission replaces the patron's sync setting.
func (d *Directory) SetSyncPermission(barcode string, allowed bool) (*Patron, error) {
	p, err := d.Get(barcode)
	if err != nil {
		return nil, err
	}
	next := *p
	next.SyncAnnotations = &allowed
	d.patrons.Store(barcode, &next)
	return &next, nil
}

// profile renders the patron profile document.
func (s *Server) profile(r *http.Request, p *Patron) domain.UserProfile {
	doc := domain.UserProfile{
		AuthorizationIdentifier: p.Barcode,
		Settings:                domain.ProfileSettings{SynchronizeAnnotations: p.SyncAnnotations},
		Links: []domain.ProfileLink{{
			Rel:  domain.AnnotationServiceRel,
			Href: s.baseURL(r) + PathAnnotations,
			Type: "application/ld+json",
		}},
	}
	if p.DRMClientToken != "" {
		doc.DRM = []domain.DRMLicensor{{Vendor: DRMVendor, ClientToken: p.DRMClientToken}}
	}
	return doc
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	response.Raw(w, http.StatusOK, "application/vnd.librarysimplified.user-profile+json", s.profile(r, patronFrom(r.Context())), s.logger)
}

// handleUpdateProfile accepts {"settings": {"simplified:synchronize_annotations": bool}}.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Settings domain.ProfileSettings `json:"settings"`
	}
	if err := json.UnmarshalRead(r.Body, &body); err != nil {
		response.BadRequest(w, "profile update is not valid JSON", s.logger)
		return
	}
	if body.Settings.SynchronizeAnnotations == nil {
		response.BadRequest(w, "settings.simplified:synchronize_annotations is required", s.logger)
		return
	}

	p, err := s.patrons.SetSyncPermission(patronFrom(r.Context()).Barcode, *body.Settings.SynchronizeAnnotations)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	s.logger.Info("sync permission changed", "barcode", p.Barcode, "allowed", *p.SyncAnnotations)
	response.Raw(w, http.StatusOK, "application/vnd.librarysimplified.user-profile+json", s.profile(r, p), s.logger)
}

// tokenResponse is the token exchange result.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// handleToken exchanges HTTP basic barcode/PIN credentials for a bearer token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	barcode, pin, ok := r.BasicAuth()
	if !ok {
		response.InvalidCredentials(w, "Token exchange requires a barcode and PIN.", s.logger)
		return
	}
	p, err := s.patrons.Authenticate(barcode, pin)
	if err != nil {
		response.InvalidCredentials(w, "Check your card number and PIN.", s.logger)
		return
	}

	token, err := s.tokens.Issue(s.cfg.LibraryID, p.Barcode)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokens.Duration() / time.Second),
	}, s.logger)
}

// handleAuthorize is a minimal OAuth intermediary: the barcode and PIN arrive as query
// parameters and the outcome is returned in the fragment of redirect_uri.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.Scheme == "" {
		response.BadRequest(w, "redirect_uri must be an absolute URL", s.logger)
		return
	}

	fragment := url.Values{}
	p, err := s.patrons.Authenticate(q.Get("barcode"), q.Get("pin"))
	if err != nil {
		problem, _ := json.Marshal(domain.ProblemDocument{
			Type:   domain.ProblemTypeCredentialsInvalid,
			Title:  "Invalid credentials",
			Detail: "Check your card number and PIN.",
		})
		fragment.Set("error", string(problem))
	} else {
		token, err := s.tokens.Issue(s.cfg.LibraryID, p.Barcode)
		if err != nil {
			response.HandleError(w, err, s.logger)
			return
		}
		info, _ := json.Marshal(map[string]string{"name": p.Name, "barcode": p.Barcode})
		fragment.Set("access_token", token)
		fragment.Set("patron_info", string(info))
	}

	redirect.Fragment = ""
	target := redirect.String() + "#" + fragment.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// handleSignOut revokes the presented bearer token. Basic-auth sessions have nothing to revoke.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if token, ok := bearerToken(r); ok {
		if claims, err := s.tokens.Verify(token); err == nil {
			s.revoked.Add(claims.TokenID, claims.Expiration)
		}
	}
	response.Success(w, map[string]string{"status": "signed_out"}, s.logger)
}

// revocationList remembers revoked token IDs until they would have expired anyway.
type revocationList struct {
	ids *syncmap.Map[string, time.Time]
}

func newRevocationList() *revocationList {
	return &revocationList{ids: syncmap.New[string, time.Time]()}
}

// Add revokes id until expiresAt.
func (l *revocationList) Add(id string, expiresAt time.Time) {
	l.ids.Store(id, expiresAt)
}

// Contains reports whether id is revoked, dropping the entry once it has expired.
func (l *revocationList) Contains(id string, now time.Time) bool {
	exp, ok := l.ids.Load(id)
	if !ok {
		return false
	}
	if now.After(exp) {
		l.ids.Delete(id)
		return false
	}
	return true
}
