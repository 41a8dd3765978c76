package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// GCSStore keeps invoice attachments in a Cloud Storage bucket
type GCSStore struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

// NewGCSStore uses Application Default Credentials
func NewGCSStore(ctx context.Context, bucket, publicBaseURL string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &GCSStore{
		client:        client,
		bucket:        bucket,
		publicBaseURL: publicBaseURL,
	}, nil
}

// Put uploads data under name and returns its URL
func (s *GCSStore) Put(ctx context.Context, name string, contentType string, data []byte) (string, error) {
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to write object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", name, err)
	}

	return s.URL(name), nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, name string) error {
	err := s.client.Bucket(s.bucket).Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object %s: %w", name, err)
	}
	return nil
}

// URL is where a stored object can be fetched from
func (s *GCSStore) URL(name string) string {
	if s.publicBaseURL != "" {
		return strings.TrimRight(s.publicBaseURL, "/") + "/" + name
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, name)
}

// Close releases the underlying client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// ObjectName builds a collision-resistant object name for an attachment
func ObjectName(mailboxID, messageID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	base := sanitize(strings.TrimSuffix(filename, path.Ext(filename)))
	if base == "" {
		base = "attachment"
	}
	return fmt.Sprintf("invoices/%s/%s/%s-%s%s", sanitize(mailboxID), sanitize(messageID), uuid.New().String(), base, sanitize(ext))
}

// sanitize keeps letters, digits, dots, dashes and underscores
func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '@', r == '/':
			b.WriteRune('_')
		}
	}
	return b.String()
}
