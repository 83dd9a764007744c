package bookmarksync

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/listenupapp/listenup-sync/internal/annotations"
	"github.com/listenupapp/listenup-sync/internal/deletionlog"
	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/errors"
	"github.com/listenupapp/listenup-sync/internal/netclient"
	"github.com/listenupapp/listenup-sync/internal/store"
	"github.com/listenupapp/listenup-sync/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAccount is a signed-in session unless told otherwise.
type fakeAccount struct {
	library     string
	signedIn    bool
	syncAllowed bool
	endpoint    string
	expiry      time.Time
}

func (a *fakeAccount) LibraryID() string                     { return a.library }
func (a *fakeAccount) IsSignedIn() bool                      { return a.signedIn }
func (a *fakeAccount) SyncAllowed() bool                     { return a.syncAllowed }
func (a *fakeAccount) AnnotationsURL() string                { return a.endpoint }
func (a *fakeAccount) AuthToken() string                     { return "token" }
func (a *fakeAccount) BarcodeAndPin() (string, string, bool) { return "", "", false }
func (a *fakeAccount) MarkCredentialsStale(context.Context) (bool, error) {
	return false, nil
}

func (a *fakeAccount) ExpireToken(_ context.Context, now time.Time) (bool, error) {
	if a.expiry.IsZero() || now.Before(a.expiry) || !a.signedIn {
		return false, nil
	}
	a.signedIn = false
	return true, nil
}

// annotationServer keeps posted annotations in memory and serves them back.
type annotationServer struct {
	*httptest.Server

	mu       sync.Mutex
	items    map[string]map[string]any
	order    []string
	next     int
	gets     atomic.Int32
	posts    atomic.Int32
	deletes  atomic.Int32
	postCode int
	getGate  chan struct{}
}

func newAnnotationServer(t *testing.T) *annotationServer {
	t.Helper()
	s := &annotationServer{items: make(map[string]map[string]any)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *annotationServer) endpoint() string { return s.URL + "/annotations/" }

func (s *annotationServer) serve(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.gets.Add(1)
		if s.getGate != nil {
			<-s.getGate
		}
		target := r.URL.Query().Get("target")
		s.mu.Lock()
		items := []any{}
		for _, id := range s.order {
			item := s.items[id]
			if item["target"].(map[string]any)["source"] == target {
				items = append(items, item)
			}
		}
		s.mu.Unlock()
		_ = json.MarshalWrite(w, map[string]any{"first": map[string]any{"items": items}})

	case http.MethodPost:
		s.posts.Add(1)
		if s.postCode != 0 {
			w.WriteHeader(s.postCode)
			return
		}
		data, _ := io.ReadAll(r.Body)
		var item map[string]any
		if err := json.Unmarshal(data, &item); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.next++
		id := fmt.Sprintf("%s%d", s.endpoint(), s.next)
		item["id"] = id
		s.items[id] = item
		s.order = append(s.order, id)
		s.mu.Unlock()
		_ = json.MarshalWrite(w, map[string]any{"id": id, "body": item["body"]})

	case http.MethodDelete:
		s.deletes.Add(1)
		id := s.URL + r.URL.Path
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.items[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(s.items, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

// seed stores an annotation as if another device had posted it.
func (s *annotationServer) seed(t *testing.T, b *domain.Bookmark) string {
	t.Helper()
	data, err := annotations.EncodeAnnotation(b)
	require.NoError(t, err)
	var item map[string]any
	require.NoError(t, json.Unmarshal(data, &item))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := fmt.Sprintf("%s%d", s.endpoint(), s.next)
	item["id"] = id
	s.items[id] = item
	s.order = append(s.order, id)
	return id
}

func (s *annotationServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type harness struct {
	engine    *Engine
	server    *annotationServer
	account   *fakeAccount
	local     *sqlite.Replica
	deletions *deletionlog.Ledger
	outbox    *sqlite.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "sync.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kv, err := store.NewInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	deletions, err := deletionlog.Open(ctx, kv.Deletions, nil)
	require.NoError(t, err)

	return newLibraryHarness(t, "lib-1", db, deletions)
}

// newLibraryHarness builds the engine of one library account on storage that other
// libraries of the same device may share.
func newLibraryHarness(t *testing.T, libraryID string, db *sqlite.Store, log *deletionlog.Log) *harness {
	t.Helper()

	server := newAnnotationServer(t)
	account := &fakeAccount{library: libraryID, signedIn: true, syncAllowed: true, endpoint: server.endpoint()}

	net := netclient.New(time.Second, nil, netclient.WithHTTPClient(server.Client()))
	builder := netclient.NewRequestBuilder(domain.AuthMethodToken, "test")
	client := annotations.NewClient(libraryID, net, builder, db, nil)

	local := db.Library(libraryID)
	deletions := log.Library(libraryID)
	engine := New(account, client, local, deletions, Config{
		Device:        "urn:uuid:this-device",
		PositionDelay: time.Hour,
	}, nil)
	t.Cleanup(engine.Close)

	return &harness{
		engine:    engine,
		server:    server,
		account:   account,
		local:     local,
		deletions: deletions,
		outbox:    db,
	}
}

func pageBookmark(bookID string, page int) *domain.Bookmark {
	return &domain.Bookmark{
		BookID:     bookID,
		Motivation: domain.MotivationBookmark,
		Locator:    domain.PageLocator{Page: page},
		Device:     "urn:uuid:other-device",
		Time:       time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestSync_UploadsPendingAndDownloadsRemote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.local.InsertBookmark(ctx, pageBookmark("book-1", 3)))
	remoteID := h.server.seed(t, pageBookmark("book-1", 10))

	set, err := h.engine.Sync(ctx, "book-1")
	require.NoError(t, err)
	require.Len(t, set, 2)

	for _, b := range set {
		assert.True(t, b.IsSynced(), "bookmark %s has a server id", b.LocalID)
		assert.NotEmpty(t, b.LocalID)
	}
	assert.Equal(t, 2, h.server.count())

	stored, err := h.engine.Bookmarks(ctx, "book-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Contains(t, []string{stored[0].AnnotationID, stored[1].AnnotationID}, remoteID)
}

func TestSync_IdenticalSetsDoNotDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, page := range []int{1, 2, 3} {
		require.NoError(t, h.local.InsertBookmark(ctx, pageBookmark("book-1", page)))
	}

	first, err := h.engine.Sync(ctx, "book-1")
	require.NoError(t, err)
	require.Len(t, first, 3)

	second, err := h.engine.Sync(ctx, "book-1")
	require.NoError(t, err)
	assert.Len(t, second, 3)
	assert.Equal(t, int32(3), h.server.posts.Load(), "nothing uploaded twice")
}

func TestSync_SimilarRemoteFromOtherDeviceIsNotAdded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mine := pageBookmark("book-1", 4)
	mine.Device = "urn:uuid:this-device"
	mine.AnnotationID = h.server.seed(t, mine)
	require.NoError(t, h.local.InsertBookmark(ctx, mine))

	// Same position posted by another device under its own ID.
	h.server.seed(t, pageBookmark("book-1", 4))

	set, err := h.engine.Sync(ctx, "book-1")
	require.NoError(t, err)
	require.Len(t, set, 1)
	assert.Equal(t, mine.LocalID, set[0].LocalID)
}

func TestSync_RemotelyDeletedBookmarkIsDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	gone := pageBookmark("book-1", 6)
	gone.AnnotationID = h.server.endpoint() + "999"
	require.NoError(t, h.local.InsertBookmark(ctx, gone))

	set, err := h.engine.Sync(ctx, "book-1")
	require.NoError(t, err)
	assert.Empty(t, set)

	_, err = h.local.GetBookmark(ctx, gone.LocalID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSync_DeletedAnnotationDoesNotReappear(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.local.InsertBookmark(ctx, pageBookmark("book-1", 8)))
	set, err := h.engine.Sync(ctx, "book-1")
	require.NoError(t, err)
	require.Len(t, set, 1)
	deleted := set[0]

	// The server ignores the delete, as a server on a slow replica would.
	h.server.mu.Lock()
	saved := h.server.items[deleted.AnnotationID]
	h.server.mu.Unlock()

	require.NoError(t, h.engine.Delete(ctx, deleted))
	assert.True(t, h.deletions.Contains("book-1", deleted.AnnotationID))

	h.server.mu.Lock()
	h.server.items[deleted.AnnotationID] = saved
	h.server.order = append(h.server.order, deleted.AnnotationID)
	h.server.mu.Unlock()

	set, err = h.engine.Sync(ctx, "book-1")
	require.NoError(t, err)
	for _, b := range set {
		assert.NotEqual(t, deleted.AnnotationID, b.AnnotationID)
	}
	assert.Empty(t, set)
	assert.True(t, h.deletions.Contains("book-1", deleted.AnnotationID), "still listed while the server returns it")

	// The pass retried the delete; the next one sees it gone and clears the entry.
	_, err = h.engine.Sync(ctx, "book-1")
	require.NoError(t, err)
	assert.False(t, h.deletions.Contains("book-1", deleted.AnnotationID))
}

func TestSync_LibrariesSharingStorageStayApart(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "sync.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	kv, err := store.NewInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	log, err := deletionlog.Open(ctx, kv.Deletions, nil)
	require.NoError(t, err)

	a := newLibraryHarness(t, "lib-a", db, log)
	b := newLibraryHarness(t, "lib-b", db, log)

	// A holds two synced bookmarks and one still pending.
	for _, page := range []int{5, 7} {
		require.NoError(t, a.local.InsertBookmark(ctx, pageBookmark("book-1", page)))
	}
	synced, err := a.engine.Sync(ctx, "book-1")
	require.NoError(t, err)
	require.Len(t, synced, 2)
	require.NoError(t, a.local.InsertBookmark(ctx, pageBookmark("book-1", 9)))

	// A deletes one while the server ignores it, so the deletion stays pending.
	a.account.signedIn = false
	require.NoError(t, a.engine.Delete(ctx, synced[0]))
	a.account.signedIn = true
	require.True(t, a.deletions.Contains("book-1", synced[0].AnnotationID))

	set, err := b.engine.Sync(ctx, "book-1")
	require.NoError(t, err)
	assert.Empty(t, set)
	assert.Zero(t, b.server.posts.Load(), "A's pending bookmark must not reach B's server")
	assert.Zero(t, b.server.count())

	kept, err := a.local.ListBookmarks(ctx, "book-1", domain.MotivationBookmark)
	require.NoError(t, err)
	assert.Len(t, kept, 2, "B's pass must not drop A's rows")
	assert.True(t, a.deletions.Contains("book-1", synced[0].AnnotationID), "B's pass must not settle A's deletions")

	require.NoError(t, b.engine.ReturnBook(ctx, "book-1"))
	assert.True(t, a.deletions.Contains("book-1", synced[0].AnnotationID))

	set, err = a.engine.Sync(ctx, "book-1")
	require.NoError(t, err)
	require.Len(t, set, 2)
	for _, bm := range set {
		assert.NotEqual(t, synced[0].AnnotationID, bm.AnnotationID)
	}
}

func TestSync_ConcurrentCallersShareOnePass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.server.seed(t, pageBookmark("book-1", 2))
	h.server.getGate = make(chan struct{})

	const callers = 5
	results := make([][]*domain.Bookmark, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := h.engine.Sync(ctx, "book-1")
			assert.NoError(t, err)
			results[i] = set
		}()
	}

	require.Eventually(t, func() bool { return h.server.gets.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(h.server.getGate)
	wg.Wait()

	assert.Equal(t, int32(1), h.server.gets.Load())
	for i := range callers {
		require.Len(t, results[i], 1)
		assert.Equal(t, results[0][0].LocalID, results[i][0].LocalID)
	}
}

func TestSync_LocalOnlyWhenOffline(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *fakeAccount)
	}{
		{"not signed in", func(a *fakeAccount) { a.signedIn = false }},
		{"sync disabled", func(a *fakeAccount) { a.syncAllowed = false }},
		{"no endpoint", func(a *fakeAccount) { a.endpoint = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			tt.mutate(h.account)

			require.NoError(t, h.local.InsertBookmark(ctx, pageBookmark("book-1", 1)))

			set, err := h.engine.Sync(ctx, "book-1")
			require.NoError(t, err)
			require.Len(t, set, 1)
			assert.False(t, set[0].IsSynced())
			assert.Zero(t, h.server.gets.Load())
			assert.Zero(t, h.server.posts.Load())
		})
	}
}

func TestSync_ExpiredTokenStaysLocal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.account.expiry = time.Now().Add(-time.Minute)
	require.NoError(t, h.local.InsertBookmark(ctx, pageBookmark("book-1", 1)))

	set, err := h.engine.Sync(ctx, "book-1")
	require.NoError(t, err)
	assert.Len(t, set, 1)
	assert.False(t, h.account.signedIn, "the session went stale")
	assert.Zero(t, h.server.gets.Load()+h.server.posts.Load(), "no request is sent with an expired token")
}

func TestSync_FailedUploadStaysPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.server.postCode = http.StatusInternalServerError

	require.NoError(t, h.local.InsertBookmark(ctx, pageBookmark("book-1", 1)))

	set, err := h.engine.Sync(ctx, "book-1")
	require.NoError(t, err)
	require.Len(t, set, 1)
	assert.False(t, set[0].IsSynced())

	n, err := h.outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "bookmarks are retried by the next pass, not queued")
}

func TestAddBookmark(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	added, err := h.engine.AddBookmark(ctx, &domain.Bookmark{
		BookID:  "book-1",
		Locator: domain.HrefProgressionLocator{Href: "/c1.xhtml", ProgressWithinChapter: 0.5},
	})
	require.NoError(t, err)
	assert.True(t, added.IsSynced())
	assert.Equal(t, "urn:uuid:this-device", added.Device)
	assert.False(t, added.Time.IsZero())

	again, err := h.engine.AddBookmark(ctx, &domain.Bookmark{
		BookID:  "book-1",
		Locator: domain.HrefProgressionLocator{Href: "/c1.xhtml", ProgressWithinChapter: 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, added.LocalID, again.LocalID, "similar bookmark is not added twice")
	assert.Equal(t, int32(1), h.server.posts.Load())
}

func TestDelete_UnsyncedSkipsLogAndServer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.account.signedIn = false

	b, err := h.engine.AddBookmark(ctx, pageBookmark("book-1", 1))
	require.NoError(t, err)
	require.False(t, b.IsSynced())

	require.NoError(t, h.engine.Delete(ctx, b))
	assert.Empty(t, h.deletions.IDs("book-1"))
	assert.Zero(t, h.server.deletes.Load())
}

func TestReturnBook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.deletions.Record(ctx, "book-1", "https://example.org/annotations/1"))
	require.NoError(t, h.local.InsertBookmark(ctx, pageBookmark("book-1", 1)))
	require.NoError(t, h.engine.SaveReadingPosition(ctx, pageBookmark("book-1", 2)))

	require.NoError(t, h.engine.ReturnBook(ctx, "book-1"))

	assert.Empty(t, h.deletions.IDs("book-1"))
	set, err := h.engine.Bookmarks(ctx, "book-1")
	require.NoError(t, err)
	assert.Empty(t, set)

	pos, err := h.engine.ReadingPosition(ctx, "book-1")
	require.NoError(t, err)
	assert.Nil(t, pos)

	h.engine.Flush()
	assert.Zero(t, h.server.posts.Load(), "the scheduled upload was dropped")
}

func TestEngine_SyncErrorKeepsLocalSet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.local.InsertBookmark(ctx, pageBookmark("book-1", 1)))
	h.server.Close()

	set, err := h.engine.Sync(ctx, "book-1")
	assert.Len(t, set, 1)
	assert.ErrorIs(t, err, errors.ErrTransport)
	assert.True(t, strings.Contains(err.Error(), "book-1"))
}
