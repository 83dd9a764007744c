package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "state"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestEntity_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	entity := store.NewEntity[testRecord](s, "test:")

	require.NoError(t, entity.Create(ctx, "1", &testRecord{ID: "1", Name: "first"}))

	got, err := entity.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)

	err = entity.Create(ctx, "1", &testRecord{ID: "1"})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	var keyErr *store.KeyError
	require.True(t, errors.As(err, &keyErr))
	assert.Equal(t, "test:1", keyErr.Key)
}

func TestEntity_GetMissing(t *testing.T) {
	s := setupTestStore(t)
	entity := store.NewEntity[testRecord](s, "test:")

	_, err := entity.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEntity_PutReplacesAndDeleteIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	entity := store.NewEntity[testRecord](s, "test:")

	require.NoError(t, entity.Put(ctx, "1", &testRecord{ID: "1", Name: "a"}))
	require.NoError(t, entity.Put(ctx, "1", &testRecord{ID: "1", Name: "b"}))

	got, err := entity.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name)

	require.NoError(t, entity.Delete(ctx, "1"))
	require.NoError(t, entity.Delete(ctx, "1"))

	_, err = entity.Get(ctx, "1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEntity_ListScopedToPrefix(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := store.NewEntity[testRecord](s, "a:")
	b := store.NewEntity[testRecord](s, "b:")

	require.NoError(t, a.Put(ctx, "1", &testRecord{ID: "1"}))
	require.NoError(t, a.Put(ctx, "2", &testRecord{ID: "2"}))
	require.NoError(t, b.Put(ctx, "3", &testRecord{ID: "3"}))

	var ids []string
	for rec, err := range a.List(ctx) {
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	assert.ElementsMatch(t, []string{"1", "2"}, ids)
}

func TestEntity_ContextCancelled(t *testing.T) {
	s := setupTestStore(t)
	entity := store.NewEntity[testRecord](s, "test:")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, entity.Put(ctx, "1", &testRecord{}), context.Canceled)
	_, err := entity.Get(ctx, "1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_AccountRecordSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	ctx := context.Background()

	creds, err := domain.MarshalCredentials(domain.BarcodeAndPin{Barcode: "123", PIN: "4"})
	require.NoError(t, err)

	s, err := store.New(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Accounts.Put(ctx, "lib", &store.AccountRecord{
		LibraryID:   "lib",
		AuthState:   domain.AuthStateLoggedIn,
		Credentials: creds,
		DRM:         &domain.DRMIdentity{DeviceID: "d", UserID: "u"},
		UpdatedAt:   time.Now().UTC(),
	}))
	require.NoError(t, s.Close())

	s, err = store.New(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Accounts.Get(ctx, "lib")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthStateLoggedIn, rec.AuthState)
	assert.True(t, rec.DRM.Complete())

	got, err := domain.UnmarshalCredentials(rec.Credentials)
	require.NoError(t, err)
	assert.Equal(t, domain.BarcodeAndPin{Barcode: "123", PIN: "4"}, got)
}

func TestStore_InMemory(t *testing.T) {
	s, err := store.NewInMemory(nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.DRM.Put(ctx, "lib:vendor", &store.ActivationRecord{DeviceID: "d", UserID: "u", Vendor: "vendor"}))
	got, err := s.DRM.Get(ctx, "lib:vendor")
	require.NoError(t, err)
	assert.Equal(t, "u", got.UserID)
}
