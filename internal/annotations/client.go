package annotations

import (
	"bytes"
	"context"
	"encoding/json/v2"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/errors"
	"github.com/listenupapp/listenup-sync/internal/logger"
	"github.com/listenupapp/listenup-sync/internal/netclient"
)

// transientStatuses are POST failures worth replaying later.
var transientStatuses = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// IsTransientStatus reports whether a failed POST with this status should be queued.
func IsTransientStatus(status int) bool {
	return slices.Contains(transientStatuses, status)
}

// Session is the account view the client needs: credentials to sign with and a hook to
// mark them stale. *credentials.Account implements it.
type Session interface {
	netclient.CredentialSource
	netclient.StaleMarker
}

// OutboxEntry is a POST waiting to be replayed.
type OutboxEntry struct {
	ID         string
	LibraryID  string
	BookID     string
	Motivation domain.Motivation
	URL        string
	Body       []byte
	Headers    map[string]string
	Attempts   int
	CreatedAt  time.Time
}

// Outbox durably queues POSTs that failed transiently.
//
// A book has at most one queued reading position: enqueueing a newer one replaces the
// older entry, and Supersede drops it once a newer position reached the server.
type Outbox interface {
	Enqueue(ctx context.Context, entry *OutboxEntry) error
	Supersede(ctx context.Context, libraryID, bookID string, motivation domain.Motivation) error
}

// PostResult is the server identity of an uploaded annotation.
type PostResult struct {
	AnnotationID string
	SavedAt      time.Time
}

// Client talks to one library's annotations endpoint.
type Client struct {
	libraryID string
	net       *netclient.Client
	builder   *netclient.RequestBuilder
	outbox    Outbox
	logger    *slog.Logger
}

// NewClient creates a client. outbox may be nil, in which case nothing is queued.
func NewClient(libraryID string, net *netclient.Client, builder *netclient.RequestBuilder, outbox Outbox, log *slog.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		libraryID: libraryID,
		net:       net,
		builder:   builder,
		outbox:    outbox,
		logger:    log,
	}
}

// LibraryID returns the library this client serves.
func (c *Client) LibraryID() string { return c.libraryID }

// Fetch returns the server's annotations for a book filtered by motivation.
// GET and its failures are never queued.
func (c *Client) Fetch(ctx context.Context, s Session, endpoint, bookID string, motivation domain.Motivation) ([]*domain.Bookmark, error) {
	if endpoint == "" {
		return nil, wrapError("fetch", bookID, ErrNoEndpoint)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, wrapError("fetch", bookID, err)
	}
	q := u.Query()
	q.Set("target", bookID)
	u.RawQuery = q.Encode()

	req, err := c.builder.Build(ctx, http.MethodGet, u.String(), nil, s)
	if err != nil {
		return nil, wrapError("fetch", bookID, err)
	}

	resp, err := c.net.Do(ctx, req, s)
	if err != nil {
		return nil, wrapError("fetch", bookID, err)
	}
	if resp.Status != http.StatusOK {
		return nil, wrapError("fetch", bookID, c.net.ProtocolError(resp, "fetch annotations"))
	}

	items, err := DecodeCollection(resp.Body, bookID, motivation, c.logger)
	if err != nil {
		return nil, wrapError("fetch", bookID, errors.Wrap(err, errors.CodeProtocol, "decode annotations"))
	}
	return items, nil
}

// PostOptions tunes a single upload.
type PostOptions struct {
	// QueueOnFailure puts transient failures in the outbox.
	QueueOnFailure bool
}

// Post uploads a bookmark. Only HTTP 200 with an id counts as success.
func (c *Client) Post(ctx context.Context, s Session, endpoint string, b *domain.Bookmark, opts PostOptions) (*PostResult, error) {
	if endpoint == "" {
		return nil, wrapError("post", b.BookID, ErrNoEndpoint)
	}

	body, err := EncodeAnnotation(b)
	if err != nil {
		return nil, wrapError("post", b.BookID, err)
	}

	req, err := c.builder.Build(ctx, http.MethodPost, endpoint, bytes.NewReader(body), s)
	if err != nil {
		return nil, wrapError("post", b.BookID, err)
	}

	resp, err := c.net.Do(ctx, req, s)
	if err != nil {
		return nil, wrapError("post", b.BookID, c.maybeQueue(ctx, opts, b, endpoint, body, err))
	}
	if resp.Status != http.StatusOK {
		perr := c.net.ProtocolError(resp, "post annotation")
		if IsTransientStatus(resp.Status) {
			perr = c.maybeQueue(ctx, opts, b, endpoint, body, perr)
		}
		return nil, wrapError("post", b.BookID, perr)
	}

	id, savedAt, err := decodePostResponse(resp.Body)
	if err != nil {
		return nil, wrapError("post", b.BookID, errors.Wrap(err, errors.CodeProtocol, "decode created annotation"))
	}

	if b.Motivation == domain.MotivationReadingProgress && c.outbox != nil {
		if err := c.outbox.Supersede(ctx, c.libraryID, b.BookID, b.Motivation); err != nil {
			c.logger.Error("failed to drop superseded positions", "book_id", b.BookID, "error", err)
		}
	}
	return &PostResult{AnnotationID: id, SavedAt: savedAt}, nil
}

// Delete removes an annotation by its server ID (a URL). 200 and 404 are both success.
func (c *Client) Delete(ctx context.Context, s Session, annotationID string) error {
	req, err := c.builder.Build(ctx, http.MethodDelete, annotationID, nil, s)
	if err != nil {
		return wrapError("delete", "", err)
	}

	resp, err := c.net.Do(ctx, req, s)
	if err != nil {
		return wrapError("delete", "", err)
	}

	switch resp.Status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return wrapError("delete", "", c.net.ProtocolError(resp, "delete annotation"))
	}
}

// Replay re-sends a queued POST signed with the session's current credentials.
// It reports whether the entry may be removed from the queue.
func (c *Client) Replay(ctx context.Context, s Session, entry *OutboxEntry) (done bool, err error) {
	req, err := c.builder.Build(ctx, http.MethodPost, entry.URL, bytes.NewReader(entry.Body), s)
	if err != nil {
		return true, wrapError("replay", entry.BookID, err)
	}
	for k, v := range entry.Headers {
		if http.CanonicalHeaderKey(k) == "Authorization" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.net.Do(ctx, req, s)
	if err != nil {
		return false, wrapError("replay", entry.BookID, err)
	}
	if resp.Status == http.StatusOK {
		return true, nil
	}
	perr := c.net.ProtocolError(resp, "replay annotation")
	return !IsTransientStatus(resp.Status), wrapError("replay", entry.BookID, perr)
}

func (c *Client) maybeQueue(ctx context.Context, opts PostOptions, b *domain.Bookmark, endpoint string, body []byte, cause error) error {
	if !opts.QueueOnFailure || c.outbox == nil {
		return cause
	}

	entry := &OutboxEntry{
		LibraryID:  c.libraryID,
		BookID:     b.BookID,
		Motivation: b.Motivation,
		URL:        endpoint,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.outbox.Enqueue(ctx, entry); err != nil {
		c.logger.Error("failed to queue annotation", "book_id", b.BookID, "error", err)
		return cause
	}

	c.logger.Info("annotation queued for replay", "book_id", b.BookID, "error", cause)
	return errors.Join(ErrQueued, cause)
}

// MarshalHeaders serializes queued request headers for storage.
func MarshalHeaders(h map[string]string) ([]byte, error) {
	if len(h) == 0 {
		return nil, nil
	}
	return json.Marshal(h)
}

// UnmarshalHeaders is the inverse of MarshalHeaders. Empty input yields nil.
func UnmarshalHeaders(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var h map[string]string
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return h, nil
}
