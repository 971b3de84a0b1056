package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// blobRecord is the row layout of the blobs table.
type blobRecord struct {
	Namespace   string `gorm:"primaryKey;type:varchar(64)"`
	Key         string `gorm:"primaryKey;column:blob_key;type:varchar(512)"`
	Data        []byte
	ContentType string `gorm:"type:varchar(255)"`
	Version     int64  `gorm:"not null"`
	UpdatedAt   time.Time
}

func (blobRecord) TableName() string { return "blobs" }

// maxPutRounds bounds the internal retry of an unconditional Put racing
// another writer on the same row.
const maxPutRounds = 10

// GormStore keeps every blob as a row of a single relational table.
type GormStore struct {
	db   *gorm.DB
	name string
}

// NewGormStore migrates the blobs table and returns a store on top of db.
func NewGormStore(db *gorm.DB, name string) (*GormStore, error) {
	if err := db.AutoMigrate(&blobRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate blobs table: %w", err)
	}
	return &GormStore{db: db, name: name}, nil
}

func (s *GormStore) Name() string { return s.name }

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get retrieves a single blob.
func (s *GormStore) Get(ctx context.Context, namespace, key string) (Object, error) {
	var rec blobRecord
	err := s.db.WithContext(ctx).First(&rec, "namespace = ? AND blob_key = ?", namespace, key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("%w: get %s/%s: %v", ErrUnavailable, namespace, key, err)
	}
	return Object{
		Data:        rec.Data,
		ContentType: rec.ContentType,
		Version:     strconv.FormatInt(rec.Version, 10),
	}, nil
}

// Put writes a blob. Conditional writes are single statements whose
// RowsAffected tells whether the condition held.
func (s *GormStore) Put(ctx context.Context, namespace, key string, obj Object, opts PutOptions) (string, error) {
	db := s.db.WithContext(ctx)

	switch {
	case opts.IfAbsent:
		return s.insert(db, namespace, key, obj)
	case opts.IfVersion != "":
		current, err := strconv.ParseInt(opts.IfVersion, 10, 64)
		if err != nil {
			return "", ErrVersionConflict
		}
		return s.update(db, namespace, key, obj, current)
	}

	for i := 0; i < maxPutRounds; i++ {
		var rec blobRecord
		err := db.Select("version").First(&rec, "namespace = ? AND blob_key = ?", namespace, key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			version, err := s.insert(db, namespace, key, obj)
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return version, err
		}
		if err != nil {
			return "", fmt.Errorf("%w: put %s/%s: %v", ErrUnavailable, namespace, key, err)
		}
		version, err := s.update(db, namespace, key, obj, rec.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		return version, err
	}
	return "", fmt.Errorf("%w: put %s/%s: too much contention", ErrUnavailable, namespace, key)
}

func (s *GormStore) insert(db *gorm.DB, namespace, key string, obj Object) (string, error) {
	rec := blobRecord{
		Namespace:   namespace,
		Key:         key,
		Data:        obj.Data,
		ContentType: obj.ContentType,
		Version:     time.Now().UnixNano(),
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return "", fmt.Errorf("%w: insert %s/%s: %v", ErrUnavailable, namespace, key, res.Error)
	}
	if res.RowsAffected == 0 {
		return "", ErrVersionConflict
	}
	return strconv.FormatInt(rec.Version, 10), nil
}

func (s *GormStore) update(db *gorm.DB, namespace, key string, obj Object, current int64) (string, error) {
	next := time.Now().UnixNano()
	if next <= current {
		next = current + 1
	}
	res := db.Model(&blobRecord{}).
		Where("namespace = ? AND blob_key = ? AND version = ?", namespace, key, current).
		Updates(map[string]interface{}{
			"data":         obj.Data,
			"content_type": obj.ContentType,
			"version":      next,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return "", fmt.Errorf("%w: update %s/%s: %v", ErrUnavailable, namespace, key, res.Error)
	}
	if res.RowsAffected == 0 {
		return "", ErrVersionConflict
	}
	return strconv.FormatInt(next, 10), nil
}

func (s *GormStore) Delete(ctx context.Context, namespace, key string) error {
	res := s.db.WithContext(ctx).Delete(&blobRecord{}, "namespace = ? AND blob_key = ?", namespace, key)
	if res.Error != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", ErrUnavailable, namespace, key, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, namespace string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&blobRecord{}).
		Where("namespace = ?", namespace).
		Order("blob_key").
		Pluck("blob_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, namespace, err)
	}
	return keys, nil
}
