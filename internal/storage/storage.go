// Package storage provides the object store the job reads inputs from and
// publishes artifacts to.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"

	"github.com/spaolacci/murmur3"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
)

// MetadataFingerprint is the object metadata key holding the body fingerprint.
const MetadataFingerprint = "fingerprint"

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
	Metadata    map[string]string

	// Created is when the current contents were written. Overwriting an
	// object resets it, as on GCS where every upload is a new generation.
	Created time.Time
	// Updated is the last metadata or content change.
	Updated time.Time
}

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Store abstracts the bucket holding the job's artifacts. Writes are
// unconditional: the last writer wins.
type Store interface {
	// Head returns object attributes or ErrObjectNotFound.
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// Get returns the object contents and attributes or ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, ObjectInfo, error)

	// Put writes data at key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (ObjectInfo, error)

	// Close releases client resources.
	Close() error
}

// Lookup is Head that reports absence as (nil, nil).
func Lookup(ctx context.Context, s Store, key string) (*ObjectInfo, error) {
	info, err := s.Head(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Fingerprint returns the murmur3 128-bit hash of data in hex.
func Fingerprint(data []byte) string {
	h1, h2 := murmur3.Sum128(data)
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], h1)
	binary.BigEndian.PutUint64(buf[8:], h2)
	return hex.EncodeToString(buf[:])
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
