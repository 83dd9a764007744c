package annoserver

import (
	"encoding/json/jsontext"
	"encoding/json/v2"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/http/response"
	"github.com/listenupapp/listenup-sync/internal/id"
	"github.com/listenupapp/listenup-sync/internal/syncmap"
)

const (
	annotationContext = "http://www.w3.org/ns/anno.jsonld"
	bodyTimeKey       = "http://librarysimplified.org/terms/time"
)

// annotationDoc is a stored Web Annotation. Body and target are kept as sent, apart from
// the server-assigned time.
type annotationDoc struct {
	Context    string            `json:"@context"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Motivation domain.Motivation `json:"motivation"`
	Body       jsontext.Value    `json:"body,omitempty"`
	Target     jsontext.Value    `json:"target"`
}

type annotationTarget struct {
	Source   string `json:"source"`
	Selector struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"selector"`
}

type collectionDoc struct {
	Context string  `json:"@context"`
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Total   int     `json:"total"`
	First   pageDoc `json:"first"`
}

type pageDoc struct {
	Type  string          `json:"type"`
	Items []annotationDoc `json:"items"`
}

type storedAnnotation struct {
	seq    uint64
	key    string
	owner  string
	source string
	doc    annotationDoc
}

// AnnotationStore holds annotations per patron in insertion order.
type AnnotationStore struct {
	items *syncmap.Map[string, *storedAnnotation]
	seq   atomic.Uint64
}

// NewAnnotationStore creates an empty store.
func NewAnnotationStore() *AnnotationStore {
	return &AnnotationStore{items: syncmap.New[string, *storedAnnotation]()}
}

// List returns owner's annotations on source, oldest first.
func (s *AnnotationStore) List(owner, source string) []annotationDoc {
	var matched []*storedAnnotation
	for _, a := range s.items.Values() {
		if a.owner == owner && a.source == source {
			matched = append(matched, a)
		}
	}
	slices.SortFunc(matched, func(a, b *storedAnnotation) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	out := make([]annotationDoc, 0, len(matched))
	for _, a := range matched {
		out = append(out, a.doc)
	}
	return out
}

// Add stores doc under key. A reading-progress annotation replaces the owner's previous
// position for the same book.
func (s *AnnotationStore) Add(key, owner, source string, doc annotationDoc) {
	if doc.Motivation == domain.MotivationReadingProgress {
		for _, a := range s.items.Values() {
			if a.owner == owner && a.source == source && a.doc.Motivation == domain.MotivationReadingProgress {
				s.items.Delete(a.key)
			}
		}
	}
	s.items.Store(key, &storedAnnotation{
		seq:    s.seq.Add(1),
		key:    key,
		owner:  owner,
		source: source,
		doc:    doc,
	})
}

// Remove deletes owner's annotation key and reports whether it existed.
func (s *AnnotationStore) Remove(key, owner string) bool {
	a, ok := s.items.Load(key)
	if !ok || a.owner != owner {
		return false
	}
	s.items.Delete(key)
	return true
}

// Count returns the number of stored annotations.
func (s *AnnotationStore) Count() int {
	return s.items.Len()
}

func (s *Server) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("target")
	if source == "" {
		response.BadRequest(w, "the target query parameter is required", s.logger)
		return
	}

	items := s.annotations.List(patronFrom(r.Context()).Barcode, source)
	base := s.baseURL(r)
	response.Raw(w, http.StatusOK, response.ContentTypeAnnotation, collectionDoc{
		Context: annotationContext,
		ID:      base + r.URL.RequestURI(),
		Type:    "AnnotationCollection",
		Total:   len(items),
		First:   pageDoc{Type: "AnnotationPage", Items: items},
	}, s.logger)
}

func (s *Server) handleCreateAnnotation(w http.ResponseWriter, r *http.Request) {
	var doc annotationDoc
	if err := json.UnmarshalRead(r.Body, &doc); err != nil {
		response.BadRequest(w, "annotation is not valid JSON", s.logger)
		return
	}
	if !doc.Motivation.Valid() {
		response.BadRequest(w, "unsupported motivation", s.logger)
		return
	}

	var target annotationTarget
	if err := json.Unmarshal(doc.Target, &target); err != nil || target.Source == "" || target.Selector.Value == "" {
		response.BadRequest(w, "target.source and target.selector.value are required", s.logger)
		return
	}

	body, err := stampBody(doc.Body, s.now())
	if err != nil {
		response.BadRequest(w, "body must be a JSON object", s.logger)
		return
	}

	key := id.MustGenerate(id.PrefixAnnotation)
	doc.Context = annotationContext
	doc.Type = "Annotation"
	doc.ID = s.baseURL(r) + PathAnnotations + key
	doc.Body = body

	patron := patronFrom(r.Context())
	s.annotations.Add(key, patron.Barcode, target.Source, doc)
	s.logger.Debug("annotation created", "barcode", patron.Barcode, "source", target.Source, "motivation", doc.Motivation)

	response.Raw(w, http.StatusOK, response.ContentTypeAnnotation, doc, s.logger)
}

func (s *Server) handleDeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "id")
	if !s.annotations.Remove(key, patronFrom(r.Context()).Barcode) {
		response.NotFound(w, "no such annotation", s.logger)
		return
	}
	response.Success(w, map[string]string{"id": s.baseURL(r) + PathAnnotations + key}, s.logger)
}

// stampBody sets the body time when the client did not send one.
func stampBody(raw jsontext.Value, now time.Time) (jsontext.Value, error) {
	body := map[string]any{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		if body == nil {
			body = map[string]any{}
		}
	}
	if t, _ := body[bodyTimeKey].(string); t == "" {
		body[bodyTimeKey] = now.UTC().Format(time.RFC3339)
	}
	out, err := json.Marshal(body, json.Deterministic(true))
	if err != nil {
		return nil, err
	}
	return jsontext.Value(out), nil
}
