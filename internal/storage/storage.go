package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ChunkSize — размер части при загрузке (5 MiB).
const ChunkSize = 5 << 20

// Типы хранилищ.
const (
	BackendGCS   = "gcs"
	BackendMinIO = "minio"
	BackendS3    = "s3"
)

// Object — загруженный объект.
type Object struct {
	// Bucket — bucket, куда загружен объект.
	Bucket string `json:"bucket"`

	// Key — ключ объекта (для директории — префикс).
	Key string `json:"key"`

	// URI — адрес объекта для внешних систем (gs://bucket/key, s3://bucket/key).
	// Для директории заканчивается на "/*".
	URI string `json:"uri"`

	// Size — суммарный размер в байтах.
	Size int64 `json:"size"`

	// Files — количество загруженных файлов.
	Files int `json:"files"`
}

// ObjectStore — объектное хранилище.
type ObjectStore interface {
	// Upload загружает локальный файл или содержимое директории под ключом key.
	// Файлы директории загружаются как key/<относительный путь>.
	Upload(ctx context.Context, bucket, key, localPath string) (*Object, error)

	// Scheme возвращает схему URI ("gs", "s3").
	Scheme() string
}

// Config — конфигурация хранилища.
type Config struct {
	// Backend — тип хранилища: gcs, minio, s3.
	Backend string

	// Endpoint — адрес сервера (minio, S3-совместимые).
	Endpoint string

	// Region — регион (minio, s3).
	Region string

	// AccessKey, SecretKey — статические ключи доступа (minio, s3).
	// Для gcs используются Application Default Credentials.
	AccessKey string
	SecretKey string

	// UseSSL — использовать HTTPS (minio).
	UseSSL bool
}

// New создаёт ObjectStore по конфигурации.
func New(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendGCS:
		return NewGCSStore(ctx)
	case BackendMinIO:
		return NewMinIOStore(cfg)
	case BackendS3:
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// ObjectKey формирует ключ объекта: <prefix>/<dataset>_<timestamp>.parquet.
func ObjectKey(prefix, dataset, timestamp string) string {
	return path.Join(prefix, fmt.Sprintf("%s_%s.parquet", dataset, timestamp))
}

// URI формирует адрес объекта: <scheme>://<bucket>/<key>.
func URI(scheme, bucket, key string) string {
	return fmt.Sprintf("%s://%s/%s", scheme, bucket, key)
}

// putFunc загружает один локальный файл под ключом key и возвращает его размер.
type putFunc func(ctx context.Context, key, localPath string) (int64, error)

// uploadPath загружает файл или директорию через put.
// Общая логика для всех реализаций ObjectStore.
func uploadPath(ctx context.Context, scheme, bucket, key, localPath string, put putFunc) (*Object, error) {
	// 1. Валидируем параметры
	if bucket == "" {
		return nil, ErrEmptyBucket
	}
	key = strings.Trim(key, "/")
	if key == "" {
		return nil, ErrEmptyKey
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	// 2. Обычный файл — один объект
	if info.Mode().IsRegular() {
		size, err := put(ctx, key, localPath)
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", localPath, err)
		}
		return &Object{
			Bucket: bucket,
			Key:    key,
			URI:    URI(scheme, bucket, key),
			Size:   size,
			Files:  1,
		}, nil
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, localPath)
	}

	// 3. Директория — каждый файл под префиксом key
	files, err := listFiles(localPath)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFiles, localPath)
	}

	obj := &Object{
		Bucket: bucket,
		Key:    key,
		URI:    URI(scheme, bucket, key) + "/*",
	}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		objectKey := key + "/" + filepath.ToSlash(rel)
		size, err := put(ctx, objectKey, filepath.Join(localPath, rel))
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", rel, err)
		}
		obj.Size += size
		obj.Files++
	}

	return obj, nil
}

// listFiles возвращает относительные пути обычных файлов директории в лексическом порядке.
func listFiles(dir string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
