// Package blobstore is a namespaced key/value store for JSON documents and
// binary objects. Every stored object carries an opaque version token so that
// callers can make read-modify-write cycles conditional.
package blobstore

import (
	"context"
	"errors"
)

// Namespaces used by the application.
const (
	NamespaceUsers    = "users"
	NamespaceUserIDs  = "user_ids"
	NamespaceMessages = "messages"
	NamespaceImages   = "images"
)

var (
	// ErrNotFound is returned when the key is absent. It is an expected outcome.
	ErrNotFound = errors.New("blobstore: key not found")
	// ErrVersionConflict is returned when a conditional write loses.
	ErrVersionConflict = errors.New("blobstore: version conflict")
	// ErrUnavailable wraps every backend failure that is not one of the above.
	ErrUnavailable = errors.New("blobstore: store unavailable")
)

// Object is a stored value plus its metadata.
type Object struct {
	Data        []byte
	ContentType string
	// Version is set by the store on reads and ignored on writes.
	Version string
}

// PutOptions make a write conditional. The zero value is an unconditional write.
type PutOptions struct {
	// IfVersion only writes when the stored version equals it.
	IfVersion string
	// IfAbsent only writes when the key does not exist yet.
	IfAbsent bool
}

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, namespace, key string) (Object, error)
	// Put stores obj and returns the new version token.
	Put(ctx context.Context, namespace, key string, obj Object, opts PutOptions) (string, error)
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) ([]string, error)
	Name() string
	Close() error
}
