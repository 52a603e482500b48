package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Store — ObjectStore поверх AWS S3.
type S3Store struct {
	uploader *s3manager.Uploader
}

// NewS3Store создаёт S3 uploader.
//
// Если ключи не заданы, используется стандартная цепочка credentials AWS SDK.
func NewS3Store(cfg Config) (*S3Store, error) {
	awsCfg := &aws.Config{}
	if cfg.Region != "" {
		awsCfg.Region = aws.String(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}

	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = ChunkSize
	})

	return &S3Store{uploader: uploader}, nil
}

// Scheme возвращает "s3".
func (s *S3Store) Scheme() string {
	return "s3"
}

// Upload загружает файл или директорию в bucket.
func (s *S3Store) Upload(ctx context.Context, bucket, key, localPath string) (*Object, error) {
	return uploadPath(ctx, s.Scheme(), bucket, key, localPath, func(ctx context.Context, key, localPath string) (int64, error) {
		f, err := os.Open(localPath)
		if err != nil {
			return 0, err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return 0, err
		}

		_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	})
}
