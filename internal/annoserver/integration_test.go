package annoserver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-sync/internal/annoserver"
	"github.com/listenupapp/listenup-sync/internal/annotations"
	"github.com/listenupapp/listenup-sync/internal/auth"
	"github.com/listenupapp/listenup-sync/internal/bookmarksync"
	"github.com/listenupapp/listenup-sync/internal/credentials"
	"github.com/listenupapp/listenup-sync/internal/deletionlog"
	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/drm"
	"github.com/listenupapp/listenup-sync/internal/netclient"
	"github.com/listenupapp/listenup-sync/internal/signin"
	"github.com/listenupapp/listenup-sync/internal/store"
	"github.com/listenupapp/listenup-sync/internal/store/sqlite"
)

const bookID = "urn:isbn:9780000000002"

type library struct {
	*httptest.Server
	annotations *annoserver.AnnotationStore
}

func startLibrary(t *testing.T) *library {
	t.Helper()

	allowed := true
	patrons, err := annoserver.NewDirectory([]annoserver.PatronSeed{
		{Barcode: "1234", PIN: "0000", Name: "Reader", SyncAnnotations: &allowed, DRM: true},
	})
	require.NoError(t, err)

	key, err := auth.LoadOrGenerateKey(t.TempDir())
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(key, time.Hour)
	require.NoError(t, err)

	store := annoserver.NewAnnotationStore()
	srv := httptest.NewServer(annoserver.NewServer(annoserver.Config{LibraryID: "lib-1"}, patrons, store, tokens, nil))
	t.Cleanup(srv.Close)
	return &library{Server: srv, annotations: store}
}

func (l *library) account(method domain.AuthMethod) domain.LibraryAccount {
	return domain.LibraryAccount{
		ID:           "lib-1",
		Name:         "Springfield Library",
		AuthMethod:   method,
		ProfileURL:   l.URL + annoserver.PathProfile,
		TokenURL:     l.URL + annoserver.PathToken,
		AuthorizeURL: l.URL + annoserver.PathAuthorize,
		RedirectURI:  "app://auth/callback",
		SignOutURL:   l.URL + annoserver.PathSignOut,
		SupportsDRM:  true,
	}
}

// device is one reader installation: its own credential store, bookmark database and
// deletion log, talking to the shared library.
type device struct {
	account *credentials.Account
	local   *sqlite.Replica
	signIn  *signin.Orchestrator
	engine  *bookmarksync.Engine
}

func newDevice(t *testing.T, lib *library, method domain.AuthMethod, deviceID string, agent signin.ExternalAgent) *device {
	t.Helper()
	ctx := context.Background()

	kv, err := store.NewInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	account, err := credentials.NewRegistry(kv.Accounts, nil).Account(ctx, "lib-1")
	require.NoError(t, err)

	local, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "bookmarks.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	deletions, err := deletionlog.Open(ctx, kv.Deletions, nil)
	require.NoError(t, err)

	storage, err := signin.NewWebStorage()
	require.NoError(t, err)

	net := netclient.New(5*time.Second, nil, netclient.WithHTTPClient(lib.Client()))
	builder := netclient.NewRequestBuilder(method, "listenup-sync-test")

	orchestrator := signin.New(signin.Config{
		Library: lib.account(method),
		Account: account,
		Net:     net,
		Builder: builder,
		DRM:     drm.NewLocal(kv.DRM, time.Time{}, nil),
		Agent:   agent,
		Storage: storage,
	}, nil)

	replica := local.Library("lib-1")
	engine := bookmarksync.New(account, annotations.NewClient("lib-1", net, builder, local, nil), replica, deletions.Library("lib-1"),
		bookmarksync.Config{Device: deviceID, PositionDelay: time.Hour}, nil)
	t.Cleanup(engine.Close)

	return &device{account: account, local: replica, signIn: orchestrator, engine: engine}
}

// browser follows the authorize URL the way a user would: it signs in with the card and
// hands the provider's redirect back to the orchestrator.
type browser struct {
	client *http.Client
	pin    string
}

func (b *browser) Open(ctx context.Context, authorizeURL string, done signin.RedirectHandler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authorizeURL+"&barcode=1234&pin="+b.pin, nil)
	if err != nil {
		return err
	}
	client := *b.client
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	go done(resp.Header.Get("Location"))
	return nil
}

func TestBookmarksTravelBetweenDevices(t *testing.T) {
	ctx := context.Background()
	lib := startLibrary(t)

	phone := newDevice(t, lib, domain.AuthMethodToken, "urn:uuid:phone", nil)
	require.NoError(t, phone.signIn.SignIn(ctx, signin.Request{Barcode: "1234", PIN: "0000"}))
	assert.True(t, phone.account.IsSignedIn())
	assert.True(t, phone.account.SyncAllowed())
	assert.Equal(t, lib.URL+annoserver.PathAnnotations, phone.account.AnnotationsURL())
	assert.True(t, phone.account.DRMIdentity().Complete())

	tablet := newDevice(t, lib, domain.AuthMethodOAuth, "urn:uuid:tablet", &browser{client: lib.Client(), pin: "0000"})
	require.NoError(t, tablet.signIn.SignIn(ctx, signin.Request{}))
	assert.True(t, strings.HasPrefix(tablet.account.AuthToken(), "v4.local."))

	added, err := phone.engine.AddBookmark(ctx, &domain.Bookmark{
		BookID:       bookID,
		Locator:      domain.PageLocator{Page: 3},
		ChapterTitle: "Chapter 1",
	})
	require.NoError(t, err)
	require.True(t, added.IsSynced(), "uploaded while online")
	assert.Equal(t, 1, lib.annotations.Count())

	onTablet, err := tablet.engine.Sync(ctx, bookID)
	require.NoError(t, err)
	require.Len(t, onTablet, 1)
	assert.Equal(t, added.AnnotationID, onTablet[0].AnnotationID)
	assert.Equal(t, "urn:uuid:phone", onTablet[0].Device)
	assert.Equal(t, "Chapter 1", onTablet[0].ChapterTitle)

	again, err := tablet.engine.Sync(ctx, bookID)
	require.NoError(t, err)
	assert.Len(t, again, 1, "a second pass adds nothing")

	require.NoError(t, tablet.engine.Delete(ctx, onTablet[0]))
	assert.Zero(t, lib.annotations.Count())

	onPhone, err := phone.engine.Sync(ctx, bookID)
	require.NoError(t, err)
	assert.Empty(t, onPhone, "deleted on the tablet")
}

func TestReadingPositionFollowsReader(t *testing.T) {
	ctx := context.Background()
	lib := startLibrary(t)

	phone := newDevice(t, lib, domain.AuthMethodBasic, "urn:uuid:phone", nil)
	require.NoError(t, phone.signIn.SignIn(ctx, signin.Request{Barcode: "1234", PIN: "0000"}))
	tablet := newDevice(t, lib, domain.AuthMethodToken, "urn:uuid:tablet", nil)
	require.NoError(t, tablet.signIn.SignIn(ctx, signin.Request{Barcode: "1234", PIN: "0000"}))

	for _, offset := range []int64{60_000, 90_000} {
		require.NoError(t, phone.engine.SaveReadingPosition(ctx, &domain.Bookmark{
			BookID:  bookID,
			Locator: domain.AudioLocator{Version: 2, ReadingOrderItem: "track-2", OffsetMs: offset},
		}))
	}
	assert.Zero(t, lib.annotations.Count(), "upload waits for the debounce window")

	phone.engine.Flush()
	assert.Equal(t, 1, lib.annotations.Count(), "only the latest position is uploaded")

	saved, err := phone.engine.ReadingPosition(ctx, bookID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.True(t, saved.IsSynced())

	position, err := tablet.engine.FetchReadingPosition(ctx, bookID)
	require.NoError(t, err)
	require.NotNil(t, position)
	assert.Equal(t, domain.AudioLocator{Version: 2, ReadingOrderItem: "track-2", OffsetMs: 90_000}, position.Locator)
	assert.Equal(t, "urn:uuid:phone", position.Device)
}

func TestSyncDisabledStaysLocal(t *testing.T) {
	ctx := context.Background()
	lib := startLibrary(t)

	req, err := http.NewRequest(http.MethodPut, lib.URL+annoserver.PathProfile,
		strings.NewReader(`{"settings":{"simplified:synchronize_annotations":false}}`))
	require.NoError(t, err)
	req.SetBasicAuth("1234", "0000")
	resp, err := lib.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	phone := newDevice(t, lib, domain.AuthMethodToken, "urn:uuid:phone", nil)
	require.NoError(t, phone.signIn.SignIn(ctx, signin.Request{Barcode: "1234", PIN: "0000"}))
	assert.False(t, phone.account.SyncAllowed())

	added, err := phone.engine.AddBookmark(ctx, &domain.Bookmark{BookID: bookID, Locator: domain.PageLocator{Page: 7}})
	require.NoError(t, err)
	assert.False(t, added.IsSynced())

	set, err := phone.engine.Sync(ctx, bookID)
	require.NoError(t, err)
	assert.Len(t, set, 1)
	assert.Zero(t, lib.annotations.Count())
}

func TestSignOutRevokesToken(t *testing.T) {
	ctx := context.Background()
	lib := startLibrary(t)

	phone := newDevice(t, lib, domain.AuthMethodToken, "urn:uuid:phone", nil)
	require.NoError(t, phone.signIn.SignIn(ctx, signin.Request{Barcode: "1234", PIN: "0000"}))
	token := phone.account.AuthToken()

	require.NoError(t, phone.signIn.SignOut(ctx))
	assert.False(t, phone.account.HasCredentials())

	req, err := http.NewRequest(http.MethodGet, lib.URL+annoserver.PathProfile, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := lib.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOAuthDeniedLeavesAccountSignedOut(t *testing.T) {
	lib := startLibrary(t)

	tablet := newDevice(t, lib, domain.AuthMethodOAuth, "urn:uuid:tablet", &browser{client: lib.Client(), pin: "9999"})
	err := tablet.signIn.SignIn(context.Background(), signin.Request{})

	var failure *signin.Failure
	require.ErrorAs(t, err, &failure)
	assert.False(t, tablet.account.HasCredentials())
	assert.Equal(t, signin.StateFailed, tablet.signIn.State())
}
