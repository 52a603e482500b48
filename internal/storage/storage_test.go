package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedPut struct {
	key  string
	path string
}

type fakePut struct {
	mu   sync.Mutex
	puts []recordedPut
	err  error
}

func (f *fakePut) put(_ context.Context, key, localPath string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.puts = append(f.puts, recordedPut{key: key, path: localPath})
	info, err := os.Stat(localPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("datasets", "online_transaction", "20240101000000")
	assert.Equal(t, "datasets/online_transaction_20240101000000.parquet", key)
}

func TestURI(t *testing.T) {
	assert.Equal(t, "gs://b/datasets/x.parquet", URI("gs", "b", "datasets/x.parquet"))
}

func TestUploadPath_File(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "part-0000.parquet")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o644))

	fp := &fakePut{}
	key := ObjectKey("datasets", "online_transaction", "20240101000000")
	obj, err := uploadPath(context.Background(), "gs", "b", key, file, fp.put)
	require.NoError(t, err)

	assert.Equal(t, "b", obj.Bucket)
	assert.Equal(t, "datasets/online_transaction_20240101000000.parquet", obj.Key)
	assert.Equal(t, "gs://b/datasets/online_transaction_20240101000000.parquet", obj.URI)
	assert.Equal(t, int64(4), obj.Size)
	assert.Equal(t, 1, obj.Files)
	require.Len(t, fp.puts, 1)
	assert.Equal(t, file, fp.puts[0].path)
}

func TestUploadPath_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-0001.parquet"), []byte("bb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-0000.parquet"), []byte("a"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "_SUCCESS"), nil, 0o644))

	fp := &fakePut{}
	obj, err := uploadPath(context.Background(), "s3", "b", "datasets/out.parquet/", dir, fp.put)
	require.NoError(t, err)

	assert.Equal(t, "datasets/out.parquet", obj.Key)
	assert.Equal(t, "s3://b/datasets/out.parquet/*", obj.URI)
	assert.Equal(t, 3, obj.Files)
	assert.Equal(t, int64(3), obj.Size)

	keys := make([]string, 0, len(fp.puts))
	for _, p := range fp.puts {
		keys = append(keys, p.key)
	}
	assert.Equal(t, []string{
		"datasets/out.parquet/nested/_SUCCESS",
		"datasets/out.parquet/part-0000.parquet",
		"datasets/out.parquet/part-0001.parquet",
	}, keys)
}

func TestUploadPath_Errors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.parquet")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))

	tests := []struct {
		name    string
		bucket  string
		key     string
		path    string
		wantErr error
	}{
		{name: "empty bucket", bucket: "", key: "k", path: file, wantErr: ErrEmptyBucket},
		{name: "empty key", bucket: "b", key: "/", path: file, wantErr: ErrEmptyKey},
		{name: "missing file", bucket: "b", key: "k", path: filepath.Join(dir, "missing"), wantErr: os.ErrNotExist},
		{name: "empty directory", bucket: "b", key: "k", path: empty, wantErr: ErrNoFiles},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakePut{}
			_, err := uploadPath(context.Background(), "gs", tt.bucket, tt.key, tt.path, fp.put)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, fp.puts)
		})
	}
}

func TestUploadPath_PutError(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.parquet")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	putErr := errors.New("connection reset")
	fp := &fakePut{err: putErr}

	_, err := uploadPath(context.Background(), "gs", "b", "k", file, fp.put)
	assert.ErrorIs(t, err, putErr)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "ftp"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNew_MinIO(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: BackendMinIO})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	store, err := New(context.Background(), Config{
		Backend:   BackendMinIO,
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)
	assert.Equal(t, "s3", store.Scheme())
}

func TestNew_S3(t *testing.T) {
	store, err := New(context.Background(), Config{
		Backend:   BackendS3,
		Region:    "eu-west-1",
		AccessKey: "key",
		SecretKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "s3", store.Scheme())
	assert.Equal(t, int64(ChunkSize), store.(*S3Store).uploader.PartSize)
}
