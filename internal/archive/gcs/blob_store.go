// Package gcs archives poll reports in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

type objectWriterFactory func(ctx context.Context, bucket, object string) io.WriteCloser

// BlobStore uploads reports to a bucket.
type BlobStore struct {
	bucket    string
	prefix    string
	newWriter objectWriterFactory
	setType   func(w io.WriteCloser, contentType string)
}

// New creates a GCS-backed store. Credentials come from the client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		newWriter: func(ctx context.Context, bucket, object string) io.WriteCloser {
			return client.Bucket(bucket).Object(object).NewWriter(ctx)
		},
		setType: func(w io.WriteCloser, contentType string) {
			if sw, ok := w.(*storage.Writer); ok {
				sw.ContentType = contentType
			}
		},
	}, nil
}

// PutObject uploads data and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	object := strings.TrimLeft(path, "/")
	if s.prefix != "" {
		object = s.prefix + "/" + object
	}

	writer := s.newWriter(ctx, s.bucket, object)
	if contentType != "" && s.setType != nil {
		s.setType(writer, contentType)
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}
