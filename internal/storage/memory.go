package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryObject struct {
	info ObjectInfo
	data []byte
}

// MemoryStore implements Store backed by process memory. Intended for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	objs map[string]memoryObject

	// Clock stamps Created/Updated on Put. Defaults to time.Now.
	Clock func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objs: make(map[string]memoryObject)}
}

// Head returns object attributes.
func (m *MemoryStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	m.mu.RLock()
	obj, ok := m.objs[key]
	m.mu.RUnlock()
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	info := obj.info
	info.Metadata = cloneMetadata(info.Metadata)
	return info, nil
}

// Get returns a copy of the object contents.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, ObjectInfo{}, err
	}
	m.mu.RLock()
	obj, ok := m.objs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	info := obj.info
	info.Metadata = cloneMetadata(info.Metadata)
	return data, info, nil
}

// Put stores data, resetting Created like a new object generation.
func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	now := time.Now().UTC()
	if m.Clock != nil {
		now = m.Clock()
	}
	body := make([]byte, len(data))
	copy(body, data)
	info := ObjectInfo{
		Key:         key,
		Size:        int64(len(body)),
		ContentType: opts.ContentType,
		ETag:        Fingerprint(body),
		Metadata:    cloneMetadata(opts.Metadata),
		Created:     now,
		Updated:     now,
	}
	m.mu.Lock()
	m.objs[key] = memoryObject{info: info, data: body}
	m.mu.Unlock()
	return info, nil
}

// Touch overrides the timestamps of an existing object.
func (m *MemoryStore) Touch(key string, created, updated time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objs[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	obj.info.Created = created
	obj.info.Updated = updated
	m.objs[key] = obj
	return nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objs)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
