package storage

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStore — ObjectStore поверх MinIO / S3-совместимого API.
type MinIOStore struct {
	client *minio.Client
}

// NewMinIOStore создаёт клиент MinIO.
func NewMinIOStore(cfg Config) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required for %s", ErrInvalidConfig, BackendMinIO)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{client: client}, nil
}

// Scheme возвращает "s3".
func (s *MinIOStore) Scheme() string {
	return "s3"
}

// Upload загружает файл или директорию в bucket.
func (s *MinIOStore) Upload(ctx context.Context, bucket, key, localPath string) (*Object, error) {
	return uploadPath(ctx, s.Scheme(), bucket, key, localPath, func(ctx context.Context, key, localPath string) (int64, error) {
		info, err := s.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
			PartSize:    ChunkSize,
		})
		if err != nil {
			return 0, err
		}
		return info.Size, nil
	})
}

// EnsureBucket создаёт bucket, если его нет.
func (s *MinIOStore) EnsureBucket(ctx context.Context, bucket, region string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
