package blobstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

type memoryEntry struct {
	data        []byte
	contentType string
	version     uint64
}

// MemoryStore is an in-process Store, used for local runs and tests.
type MemoryStore struct {
	entries map[string]map[string]memoryEntry
	seq     uint64
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]map[string]memoryEntry),
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Close() error { return nil }

// Get returns a copy of the stored object.
func (s *MemoryStore) Get(ctx context.Context, namespace, key string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[namespace][key]
	if !ok {
		return Object{}, ErrNotFound
	}
	return Object{
		Data:        append([]byte(nil), e.data...),
		ContentType: e.contentType,
		Version:     strconv.FormatUint(e.version, 10),
	}, nil
}

// Put stores obj, honouring the conditions in opts.
func (s *MemoryStore) Put(ctx context.Context, namespace, key string, obj Object, opts PutOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.entries[namespace]
	if !ok {
		ns = make(map[string]memoryEntry)
		s.entries[namespace] = ns
	}
	current, exists := ns[key]
	if opts.IfAbsent && exists {
		return "", ErrVersionConflict
	}
	if opts.IfVersion != "" {
		if !exists || strconv.FormatUint(current.version, 10) != opts.IfVersion {
			return "", ErrVersionConflict
		}
	}

	// Versions come from a store-wide sequence so a deleted and recreated
	// key never repeats an old token.
	s.seq++
	next := memoryEntry{
		data:        append([]byte(nil), obj.Data...),
		contentType: obj.ContentType,
		version:     s.seq,
	}
	ns[key] = next
	return strconv.FormatUint(next.version, 10), nil
}

func (s *MemoryStore) Delete(ctx context.Context, namespace, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[namespace][key]; !ok {
		return ErrNotFound
	}
	delete(s.entries[namespace], key)
	return nil
}

// List returns the keys of a namespace in lexical order.
func (s *MemoryStore) List(ctx context.Context, namespace string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries[namespace]))
	for k := range s.entries[namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
