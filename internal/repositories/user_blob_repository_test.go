package repositories_test

import (
	"context"
	"testing"

	"sugarconnect/internal/apperr"
	"sugarconnect/internal/logging"
	"sugarconnect/internal/models"
	"sugarconnect/internal/repositories"
	"sugarconnect/pkg/blobstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserRepo(t *testing.T) (*repositories.BlobUserRepository, *blobstore.MemoryStore) {
	t.Helper()
	store := blobstore.NewMemoryStore()
	return repositories.NewBlobUserRepository(store, logging.Discard()), store
}

func TestBlobUserRepository_CreateAndLookup(t *testing.T) {
	repo, _ := newUserRepo(t)
	ctx := context.Background()

	user := &models.User{Email: "  Alice@Example.com ", Name: "Alice", Role: models.RoleSeeker}
	require.NoError(t, repo.Create(ctx, user))
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEmpty(t, user.Version)

	byEmail, err := repo.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byID, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", byID.Name)
	assert.Equal(t, byEmail.Version, byID.Version)
}

func TestBlobUserRepository_DuplicateEmail(t *testing.T) {
	repo, _ := newUserRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.User{Email: "bob@example.com", Role: models.RolePatron}))
	err := repo.Create(ctx, &models.User{Email: "BOB@example.com", Role: models.RoleSeeker})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), "already registered")
}

func TestBlobUserRepository_GetByIDRepairsMissingIndex(t *testing.T) {
	repo, store := newUserRepo(t)
	ctx := context.Background()

	user := &models.User{Email: "carol@example.com", Role: models.RolePatron}
	require.NoError(t, repo.Create(ctx, user))
	require.NoError(t, store.Delete(ctx, blobstore.NamespaceUserIDs, user.ID))

	found, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", found.Email)

	obj, err := store.Get(ctx, blobstore.NamespaceUserIDs, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", string(obj.Data))
}

func TestBlobUserRepository_GetByIDUnknown(t *testing.T) {
	repo, _ := newUserRepo(t)

	_, err := repo.GetByID(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBlobUserRepository_UpdateIsConditional(t *testing.T) {
	repo, _ := newUserRepo(t)
	ctx := context.Background()

	user := &models.User{Email: "dan@example.com", Role: models.RolePatron}
	require.NoError(t, repo.Create(ctx, user))

	first, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)

	first.Bio = "first"
	require.NoError(t, repo.Update(ctx, first))

	second.Bio = "second"
	err = repo.Update(ctx, second)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	stored, err := repo.GetByEmail(ctx, "dan@example.com")
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Bio)
}

func TestBlobUserRepository_DeleteAndList(t *testing.T) {
	repo, store := newUserRepo(t)
	ctx := context.Background()

	a := &models.User{Email: "a@example.com", Role: models.RolePatron}
	b := &models.User{Email: "b@example.com", Role: models.RoleSeeker}
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	users, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, repo.Delete(ctx, a))
	_, err = repo.GetByID(ctx, a.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = store.Get(ctx, blobstore.NamespaceUserIDs, a.ID)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	users, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, b.ID, users[0].ID)

	assert.ErrorIs(t, repo.Delete(ctx, a), apperr.ErrNotFound)
}
