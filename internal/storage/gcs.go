package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore — ObjectStore поверх Google Cloud Storage.
type GCSStore struct {
	client *gcs.Client
}

// NewGCSStore создаёт клиент GCS.
// Авторизация — через Application Default Credentials или opts.
func NewGCSStore(ctx context.Context, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Scheme возвращает "gs".
func (s *GCSStore) Scheme() string {
	return "gs"
}

// Upload загружает файл или директорию в bucket.
func (s *GCSStore) Upload(ctx context.Context, bucket, key, localPath string) (*Object, error) {
	return uploadPath(ctx, s.Scheme(), bucket, key, localPath, func(ctx context.Context, key, localPath string) (int64, error) {
		return s.put(ctx, bucket, key, localPath)
	})
}

// put загружает один файл resumable-загрузкой частями по ChunkSize.
func (s *GCSStore) put(ctx context.Context, bucket, key, localPath string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ChunkSize = ChunkSize

	n, err := io.Copy(w, f)
	if err != nil {
		_ = w.Close()
		return 0, err
	}

	// Ошибка загрузки последней части проявляется только на Close
	if err := w.Close(); err != nil {
		return 0, err
	}

	return n, nil
}

// Close закрывает клиент.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
