package services_test

import (
	"context"
	"testing"

	"sugarconnect/internal/logging"
	"sugarconnect/internal/models"
	"sugarconnect/internal/notify"
	"sugarconnect/internal/repositories"
	"sugarconnect/internal/services"
	"sugarconnect/pkg/blobstore"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUserRepository is a mock implementation of repositories.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) List(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

func (m *MockUserRepository) Update(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) Delete(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// MockMessageRepository is a mock implementation of repositories.MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Get(ctx context.Context, conversationID string) (models.MessageList, string, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(models.MessageList), args.String(1), args.Error(2)
}

func (m *MockMessageRepository) Put(ctx context.Context, conversationID string, list models.MessageList, version string) (string, error) {
	args := m.Called(ctx, conversationID, list, version)
	return args.String(0), args.Error(1)
}

// MockNotifier is a mock implementation of notify.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, ev notify.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// fixture wires the services to real repositories over an in-memory store.
type fixture struct {
	store    *blobstore.MemoryStore
	users    *repositories.BlobUserRepository
	messages *repositories.BlobMessageRepository
	images   *repositories.BlobImageRepository
	notifier *MockNotifier
	policy   services.Policy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := blobstore.NewMemoryStore()
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Maybe()
	return &fixture{
		store:    store,
		users:    repositories.NewBlobUserRepository(store, logging.Discard()),
		messages: repositories.NewBlobMessageRepository(store),
		images:   repositories.NewBlobImageRepository(store),
		notifier: notifier,
		policy:   services.NewPolicy(services.DefaultCounterparts, []string{"patron"}),
	}
}

func (f *fixture) messageService(opts services.MessageOptions) *services.MessageService {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	return services.NewMessageService(f.users, f.messages, f.images, f.notifier, f.policy, opts, logging.Discard())
}

func (f *fixture) addUser(t *testing.T, name string, role models.Role, credits *int) *models.User {
	t.Helper()
	u := &models.User{
		Email:   name + "@example.com",
		Name:    name,
		Role:    role,
		Credits: credits,
	}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func intPtr(n int) *int { return &n }

func sessionOf(u *models.User) models.Session {
	return models.Session{UserID: u.ID, Email: u.Email, Role: u.Role}
}
