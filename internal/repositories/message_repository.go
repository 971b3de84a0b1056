package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sugarconnect/internal/models"
	"sugarconnect/pkg/blobstore"
)

// MessageRepository reads and writes a conversation's message list as one
// JSON document.
type MessageRepository interface {
	// Get returns the list and its version. An absent document is an empty
	// list with an empty version, not an error.
	Get(ctx context.Context, conversationID string) (models.MessageList, string, error)
	// Put overwrites the document if it is still at version. An empty
	// version means the document must not exist yet.
	Put(ctx context.Context, conversationID string, list models.MessageList, version string) (string, error)
}

// BlobMessageRepository implements MessageRepository on a blob store.
type BlobMessageRepository struct {
	store blobstore.Store
}

// NewBlobMessageRepository creates a new instance of BlobMessageRepository.
func NewBlobMessageRepository(store blobstore.Store) *BlobMessageRepository {
	return &BlobMessageRepository{store: store}
}

func (r *BlobMessageRepository) Get(ctx context.Context, conversationID string) (models.MessageList, string, error) {
	obj, err := r.store.Get(ctx, blobstore.NamespaceMessages, conversationID)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return models.MessageList{Messages: []models.Message{}}, "", nil
		}
		return models.MessageList{}, "", translate(err, "failed to load conversation %s", conversationID)
	}

	var list models.MessageList
	if err := json.Unmarshal(obj.Data, &list); err != nil {
		return models.MessageList{}, "", fmt.Errorf("failed to decode conversation %s: %w", conversationID, err)
	}
	if list.Messages == nil {
		list.Messages = []models.Message{}
	}
	return list, obj.Version, nil
}

func (r *BlobMessageRepository) Put(ctx context.Context, conversationID string, list models.MessageList, version string) (string, error) {
	if list.Messages == nil {
		list.Messages = []models.Message{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to encode conversation %s: %w", conversationID, err)
	}
	opts := blobstore.PutOptions{IfVersion: version, IfAbsent: version == ""}
	newVersion, err := r.store.Put(ctx, blobstore.NamespaceMessages, conversationID, blobstore.Object{
		Data:        data,
		ContentType: "application/json",
	}, opts)
	if err != nil {
		return "", translate(err, "failed to store conversation %s", conversationID)
	}
	return newVersion, nil
}
