package credentials

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	authorized bool
	calls      int
}

func (f *fakeChecker) IsAuthorized(context.Context, domain.DRMIdentity) bool {
	f.calls++
	return f.authorized
}

func setupRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()

	s, err := store.NewInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return NewRegistry(s.Accounts, nil), s
}

func signedInAccount(t *testing.T, creds domain.Credentials) *Account {
	t.Helper()

	reg, _ := setupRegistry(t)
	acct, err := reg.Account(context.Background(), "lib")
	require.NoError(t, err)
	require.NoError(t, acct.CompleteSignIn(context.Background(), SignInResult{
		Credentials: creds,
		Cookies:     []domain.Cookie{{Name: "idp", Value: "v"}},
		PatronInfo:  []byte(`{"name":"Reader"}`),
		DRM:         &domain.DRMIdentity{DeviceID: "dev", UserID: "user"},
	}))
	return acct
}

func TestAccount_RemoveAllForEveryVariant(t *testing.T) {
	variants := []domain.Credentials{
		domain.TokenCredentials{AuthToken: "tok"},
		domain.BarcodeAndPin{Barcode: "123", PIN: "9"},
		domain.CookieCredentials{Cookies: []domain.Cookie{{Name: "s", Value: "1"}}},
	}
	for _, creds := range variants {
		t.Run(string(creds.Kind()), func(t *testing.T) {
			ctx := context.Background()
			acct := signedInAccount(t, creds)
			require.True(t, acct.HasCredentials())

			require.NoError(t, acct.RemoveAll(ctx))
			assert.False(t, acct.HasCredentials())
			assert.Equal(t, domain.AuthStateLoggedOut, acct.AuthState())
			assert.Nil(t, acct.Credentials())
			assert.Nil(t, acct.DRMIdentity())
			assert.Empty(t, acct.Cookies())
			assert.Empty(t, acct.PatronInfo())

			require.NoError(t, acct.RemoveAll(ctx), "must be idempotent")
			assert.Equal(t, domain.AuthStateLoggedOut, acct.AuthState())
		})
	}
}

func TestAccount_MarkCredentialsStaleOnlyFromLoggedIn(t *testing.T) {
	ctx := context.Background()
	reg, _ := setupRegistry(t)
	acct, err := reg.Account(ctx, "lib")
	require.NoError(t, err)

	changed, err := acct.MarkCredentialsStale(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.AuthStateLoggedOut, acct.AuthState())

	require.NoError(t, acct.SetCredentials(ctx, domain.TokenCredentials{AuthToken: "t"}))
	require.NoError(t, acct.MarkLoggedIn(ctx))

	changed, err = acct.MarkCredentialsStale(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.AuthStateCredentialsStale, acct.AuthState())
	assert.True(t, acct.HasCredentials())
	assert.False(t, acct.IsSignedIn())
	assert.True(t, acct.NeedsReauthentication())

	changed, err = acct.MarkCredentialsStale(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "stale is not reachable from stale")

	require.NoError(t, acct.MarkLoggedIn(ctx))
	assert.True(t, acct.IsSignedIn())
}

func TestAccount_ExpireToken(t *testing.T) {
	ctx := context.Background()
	exp := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	acct := signedInAccount(t, domain.TokenCredentials{AuthToken: "tok", Expiration: &exp})
	require.Equal(t, &exp, acct.TokenExpiry())

	stale, err := acct.ExpireToken(ctx, exp.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, stale)
	assert.True(t, acct.IsSignedIn())

	stale, err = acct.ExpireToken(ctx, exp)
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, domain.AuthStateCredentialsStale, acct.AuthState())
	assert.Equal(t, "tok", acct.AuthToken(), "credentials survive for the refresh")

	stale, err = acct.ExpireToken(ctx, exp.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, stale, "already stale")

	opaque := signedInAccount(t, domain.TokenCredentials{AuthToken: "tok"})
	stale, err = opaque.ExpireToken(ctx, exp.Add(100*365*24*time.Hour))
	require.NoError(t, err)
	assert.False(t, stale, "tokens without a known expiry never expire locally")
	assert.Nil(t, opaque.TokenExpiry())
}

func TestAccount_ShouldSkipDRMActivation(t *testing.T) {
	ctx := context.Background()

	t.Run("logged in never skips", func(t *testing.T) {
		acct := signedInAccount(t, domain.TokenCredentials{AuthToken: "t"})
		checker := &fakeChecker{authorized: true}
		assert.False(t, acct.ShouldSkipDRMActivation(ctx, checker))
		assert.Zero(t, checker.calls)
	})

	t.Run("stale with authorized identity skips", func(t *testing.T) {
		acct := signedInAccount(t, domain.TokenCredentials{AuthToken: "t"})
		_, err := acct.MarkCredentialsStale(ctx)
		require.NoError(t, err)
		assert.True(t, acct.ShouldSkipDRMActivation(ctx, &fakeChecker{authorized: true}))
	})

	t.Run("stale but authorizer disagrees", func(t *testing.T) {
		acct := signedInAccount(t, domain.TokenCredentials{AuthToken: "t"})
		_, err := acct.MarkCredentialsStale(ctx)
		require.NoError(t, err)
		assert.False(t, acct.ShouldSkipDRMActivation(ctx, &fakeChecker{authorized: false}))
	})

	t.Run("stale without identity", func(t *testing.T) {
		acct := signedInAccount(t, domain.TokenCredentials{AuthToken: "t"})
		require.NoError(t, acct.SetDRMIdentity(ctx, nil))
		_, err := acct.MarkCredentialsStale(ctx)
		require.NoError(t, err)
		checker := &fakeChecker{authorized: true}
		assert.False(t, acct.ShouldSkipDRMActivation(ctx, checker))
		assert.Zero(t, checker.calls)
	})
}

func TestAccount_SetCredentialsReplaces(t *testing.T) {
	ctx := context.Background()
	acct := signedInAccount(t, domain.BarcodeAndPin{Barcode: "1", PIN: "2"})

	barcode, pin, ok := acct.BarcodeAndPin()
	require.True(t, ok)
	assert.Equal(t, "1", barcode)
	assert.Equal(t, "2", pin)
	assert.Empty(t, acct.AuthToken())

	require.NoError(t, acct.SetCredentials(ctx, domain.TokenCredentials{AuthToken: "bearer"}))
	assert.Equal(t, domain.CredentialsKindToken, acct.Credentials().Kind())
	assert.Equal(t, "bearer", acct.AuthToken())
	_, _, ok = acct.BarcodeAndPin()
	assert.False(t, ok)
}

func TestAccount_ProfileAndSyncPermission(t *testing.T) {
	ctx := context.Background()
	acct := signedInAccount(t, domain.TokenCredentials{AuthToken: "t"})
	assert.True(t, acct.SyncAllowed(), "unknown permission allows sync")

	off := false
	require.NoError(t, acct.ApplyProfile(ctx, &domain.UserProfile{
		Settings:       domain.ProfileSettings{SynchronizeAnnotations: &off},
		AnnotationsURL: "https://lib.example.org/annotations/",
	}))
	assert.False(t, acct.SyncAllowed())
	assert.Equal(t, "https://lib.example.org/annotations/", acct.AnnotationsURL())
}

func TestRegistry_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	reg, s := setupRegistry(t)

	acct, err := reg.Account(ctx, "lib")
	require.NoError(t, err)
	require.NoError(t, acct.CompleteSignIn(ctx, SignInResult{
		Credentials: domain.TokenCredentials{AuthToken: "tok", Barcode: "b"},
		Cookies:     []domain.Cookie{{Name: "idp", Value: "v"}},
	}))
	_, err = acct.MarkCredentialsStale(ctx)
	require.NoError(t, err)

	reloaded, err := NewRegistry(s.Accounts, nil).Account(ctx, "lib")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthStateCredentialsStale, reloaded.AuthState())
	assert.Equal(t, "tok", reloaded.AuthToken())
	assert.Len(t, reloaded.Cookies(), 1)
}

func TestRegistry_SameAccountAndReset(t *testing.T) {
	ctx := context.Background()
	reg, _ := setupRegistry(t)

	var wg sync.WaitGroup
	got := make([]*Account, 10)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acct, err := reg.Account(ctx, "lib")
			assert.NoError(t, err)
			got[i] = acct
		}()
	}
	wg.Wait()
	for _, acct := range got {
		assert.Same(t, got[0], acct)
	}

	require.NoError(t, got[0].CompleteSignIn(ctx, SignInResult{Credentials: domain.TokenCredentials{AuthToken: "t"}}))
	require.NoError(t, reg.Reset(ctx, "lib"))

	fresh, err := reg.Account(ctx, "lib")
	require.NoError(t, err)
	assert.NotSame(t, got[0], fresh)
	assert.False(t, fresh.HasCredentials())
}

func TestAccount_ConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	acct := signedInAccount(t, domain.TokenCredentials{AuthToken: "t"})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = acct.HasCredentials()
			_ = acct.AuthToken()
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, acct.MarkLoggedIn(ctx))
		}()
	}
	wg.Wait()
	assert.True(t, acct.IsSignedIn())
}
