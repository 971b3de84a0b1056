package repositories

import (
	"context"

	"sugarconnect/pkg/blobstore"
)

// Image is a stored binary with its content type.
type Image struct {
	Data        []byte
	ContentType string
}

// ImageRepository stores uploaded images.
type ImageRepository interface {
	Save(ctx context.Context, key string, img Image) error
	Get(ctx context.Context, key string) (*Image, error)
	Delete(ctx context.Context, key string) error
}

// BlobImageRepository implements ImageRepository on a blob store.
type BlobImageRepository struct {
	store blobstore.Store
}

// NewBlobImageRepository creates a new instance of BlobImageRepository.
func NewBlobImageRepository(store blobstore.Store) *BlobImageRepository {
	return &BlobImageRepository{store: store}
}

func (r *BlobImageRepository) Save(ctx context.Context, key string, img Image) error {
	_, err := r.store.Put(ctx, blobstore.NamespaceImages, key, blobstore.Object{
		Data:        img.Data,
		ContentType: img.ContentType,
	}, blobstore.PutOptions{})
	return translate(err, "failed to store image %s", key)
}

func (r *BlobImageRepository) Get(ctx context.Context, key string) (*Image, error) {
	obj, err := r.store.Get(ctx, blobstore.NamespaceImages, key)
	if err != nil {
		return nil, translate(err, "image %s", key)
	}
	return &Image{Data: obj.Data, ContentType: obj.ContentType}, nil
}

func (r *BlobImageRepository) Delete(ctx context.Context, key string) error {
	return translate(r.store.Delete(ctx, blobstore.NamespaceImages, key), "failed to delete image %s", key)
}
