package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sugarconnect/internal/apperr"
	"sugarconnect/internal/models"
	"sugarconnect/pkg/blobstore"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BlobUserRepository stores users as JSON under their email and keeps an
// id -> email index next to them.
type BlobUserRepository struct {
	store blobstore.Store
	log   logrus.FieldLogger
}

// NewBlobUserRepository creates a new instance of BlobUserRepository.
func NewBlobUserRepository(store blobstore.Store, log logrus.FieldLogger) *BlobUserRepository {
	return &BlobUserRepository{store: store, log: log}
}

// NormalizeEmail is the canonical form of an email used as the store key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create stores a new user. The email must not be registered yet.
func (r *BlobUserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = NormalizeEmail(user.Email)
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	version, err := r.store.Put(ctx, blobstore.NamespaceUsers, user.Email, blobstore.Object{
		Data:        data,
		ContentType: "application/json",
	}, blobstore.PutOptions{IfAbsent: true})
	if err != nil {
		if errors.Is(err, blobstore.ErrVersionConflict) {
			return fmt.Errorf("email '%s' already registered: %w", user.Email, apperr.ErrConflict)
		}
		return translate(err, "failed to create user %s", user.Email)
	}
	user.Version = version

	if err := r.putIndex(ctx, user.ID, user.Email); err != nil {
		return err
	}
	return nil
}

func (r *BlobUserRepository) putIndex(ctx context.Context, id, email string) error {
	_, err := r.store.Put(ctx, blobstore.NamespaceUserIDs, id, blobstore.Object{
		Data:        []byte(email),
		ContentType: "text/plain",
	}, blobstore.PutOptions{})
	return translate(err, "failed to index user %s", id)
}

// GetByEmail retrieves a user by email.
func (r *BlobUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	email = NormalizeEmail(email)
	obj, err := r.store.Get(ctx, blobstore.NamespaceUsers, email)
	if err != nil {
		return nil, translate(err, "user with email %s", email)
	}
	var user models.User
	if err := json.Unmarshal(obj.Data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", email, err)
	}
	user.Version = obj.Version
	return &user, nil
}

// GetByID resolves the id through the index. When the index entry is
// missing or stale the users namespace is scanned and the index repaired.
func (r *BlobUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	obj, err := r.store.Get(ctx, blobstore.NamespaceUserIDs, id)
	switch {
	case err == nil:
		user, err := r.GetByEmail(ctx, string(obj.Data))
		if err == nil && user.ID == id {
			return user, nil
		}
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	case !errors.Is(err, blobstore.ErrNotFound):
		return nil, translate(err, "user with ID %s", id)
	}

	user, err := r.scanForID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"user_id": id, "email": user.Email}).Warn("repaired missing user id index entry")
	if err := r.putIndex(ctx, user.ID, user.Email); err != nil {
		r.log.WithError(err).WithField("user_id", id).Warn("failed to repair user id index")
	}
	return user, nil
}

func (r *BlobUserRepository) scanForID(ctx context.Context, id string) (*models.User, error) {
	users, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == id {
			return &users[i], nil
		}
	}
	return nil, fmt.Errorf("user with ID %s: %w", id, apperr.ErrNotFound)
}

// List returns every user. Entries deleted between listing and reading are skipped.
func (r *BlobUserRepository) List(ctx context.Context) ([]models.User, error) {
	keys, err := r.store.List(ctx, blobstore.NamespaceUsers)
	if err != nil {
		return nil, translate(err, "failed to list users")
	}
	users := make([]models.User, 0, len(keys))
	for _, key := range keys {
		user, err := r.GetByEmail(ctx, key)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		users = append(users, *user)
	}
	return users, nil
}

// Update writes the user back. A non-empty Version makes the write conditional.
func (r *BlobUserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	version, err := r.store.Put(ctx, blobstore.NamespaceUsers, user.Email, blobstore.Object{
		Data:        data,
		ContentType: "application/json",
	}, blobstore.PutOptions{IfVersion: user.Version})
	if err != nil {
		return translate(err, "failed to update user %s", user.ID)
	}
	user.Version = version
	return nil
}

// Delete removes the user and its index entry.
func (r *BlobUserRepository) Delete(ctx context.Context, user *models.User) error {
	if err := r.store.Delete(ctx, blobstore.NamespaceUsers, user.Email); err != nil {
		return translate(err, "user with ID %s not found for deletion", user.ID)
	}
	if err := r.store.Delete(ctx, blobstore.NamespaceUserIDs, user.ID); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return translate(err, "failed to drop index of user %s", user.ID)
	}
	return nil
}
