package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// attrsDir holds per-object sidecars with content type and user metadata.
const attrsDir = ".attrs"

// LocalStorage implements Store using the local filesystem.
// This is primarily used for development runs against a copied bucket.
type LocalStorage struct {
	basePath string
	mu       sync.Mutex
}

type localAttrs struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Created     time.Time         `json:"created"`
}

// NewLocalStorage creates a new local filesystem storage.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Head returns object attributes from the file and its sidecar.
func (l *LocalStorage) Head(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	path, err := l.fullPath(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	attrs := l.readAttrs(key)
	created := attrs.Created
	if created.IsZero() {
		created = st.ModTime().UTC()
	}
	return ObjectInfo{
		Key:         key,
		Size:        st.Size(),
		ContentType: attrs.ContentType,
		Metadata:    attrs.Metadata,
		ETag:        attrs.Metadata[MetadataFingerprint],
		Created:     created,
		Updated:     st.ModTime().UTC(),
	}, nil
}

// Get reads the object contents.
func (l *LocalStorage) Get(ctx context.Context, key string) ([]byte, ObjectInfo, error) {
	info, err := l.Head(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	path, _ := l.fullPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return data, info, nil
}

// Put writes data through a temp file and rename so readers never see a
// partial object.
func (l *LocalStorage) Put(ctx context.Context, key string, data []byte, opts PutOptions) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	path, err := l.fullPath(key)
	if err != nil {
		return ObjectInfo{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	attrs := localAttrs{
		ContentType: opts.ContentType,
		Metadata:    cloneMetadata(opts.Metadata),
		Created:     time.Now().UTC(),
	}
	if err := l.writeAttrs(key, attrs); err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	return l.Head(ctx, key)
}

// Close is a no-op.
func (l *LocalStorage) Close() error { return nil }

// fullPath maps key to a path under basePath, rejecting keys that escape it.
func (l *LocalStorage) fullPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	if clean == attrsDir || strings.HasPrefix(clean, attrsDir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.basePath, clean), nil
}

func (l *LocalStorage) attrsPath(key string) string {
	return filepath.Join(l.basePath, attrsDir, filepath.Clean(filepath.FromSlash(key))+".json")
}

func (l *LocalStorage) readAttrs(key string) localAttrs {
	var attrs localAttrs
	data, err := os.ReadFile(l.attrsPath(key))
	if err != nil {
		return attrs
	}
	_ = json.Unmarshal(data, &attrs)
	return attrs
}

func (l *LocalStorage) writeAttrs(key string, attrs localAttrs) error {
	path := l.attrsPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
