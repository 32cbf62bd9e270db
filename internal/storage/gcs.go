package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStorage implements Store for a Google Cloud Storage bucket.
type GCSStorage struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
}

// NewGCSStorage opens a client using application default credentials.
func NewGCSStorage(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStorage, error) {
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStorage{client: client, bucket: client.Bucket(bucket)}, nil
}

// Head returns object attributes.
func (g *GCSStorage) Head(ctx context.Context, key string) (ObjectInfo, error) {
	attrs, err := g.attrs(ctx, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	return gcsInfo(attrs), nil
}

// Get reads the object body, pinned to the generation whose attributes
// are returned.
func (g *GCSStorage) Get(ctx context.Context, key string) ([]byte, ObjectInfo, error) {
	attrs, err := g.attrs(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	r, err := g.bucket.Object(key).Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, ObjectInfo{}, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return data, gcsInfo(attrs), nil
}

func (g *GCSStorage) attrs(ctx context.Context, key string) (*gcs.ObjectAttrs, error) {
	attrs, err := g.bucket.Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return attrs, nil
}

// Put writes a new object generation.
func (g *GCSStorage) Put(ctx context.Context, key string, data []byte, opts PutOptions) (ObjectInfo, error) {
	w := g.bucket.Object(key).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.Metadata = cloneMetadata(opts.Metadata)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := w.Close(); err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return gcsInfo(w.Attrs()), nil
}

// Close releases the client.
func (g *GCSStorage) Close() error {
	return g.client.Close()
}

func gcsInfo(attrs *gcs.ObjectAttrs) ObjectInfo {
	if attrs == nil {
		return ObjectInfo{}
	}
	return ObjectInfo{
		Key:         attrs.Name,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		ETag:        attrs.Etag,
		Metadata:    cloneMetadata(attrs.Metadata),
		Created:     attrs.Created.UTC(),
		Updated:     attrs.Updated.UTC(),
	}
}
