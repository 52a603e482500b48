package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/batchflow/internal/storage"
)

// StepTypeUpload — тип шага загрузки в объектное хранилище.
const StepTypeUpload = "upload"

// UploadConfig — конфигурация UploadStep.
type UploadConfig struct {
	// Store — объектное хранилище.
	Store storage.ObjectStore

	// Bucket — целевой bucket.
	Bucket string

	// Prefix — префикс ключа (например, "datasets").
	Prefix string

	// Dataset — логическое имя набора данных (например, "online_transaction").
	Dataset string

	// SourceStep — шаг, чей output содержит локальный путь для загрузки.
	SourceStep string
}

// UploadStep — загрузка результата предыдущего шага в объектное хранилище.
//
// Ключ объекта: <prefix>/<dataset>_<start timestamp>.parquet.
// Output — URI загруженного объекта.
type UploadStep struct {
	cfg UploadConfig
}

// NewUploadStep создаёт UploadStep.
func NewUploadStep(cfg UploadConfig) (*UploadStep, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("%w: %s: store is required", ErrInvalidConfig, StepTypeUpload)
	case cfg.Bucket == "":
		return nil, fmt.Errorf("%w: %s: bucket is required", ErrInvalidConfig, StepTypeUpload)
	case cfg.Dataset == "":
		return nil, fmt.Errorf("%w: %s: dataset is required", ErrInvalidConfig, StepTypeUpload)
	case cfg.SourceStep == "":
		return nil, fmt.Errorf("%w: %s: source step is required", ErrInvalidConfig, StepTypeUpload)
	}
	return &UploadStep{cfg: cfg}, nil
}

// Type возвращает тип шага.
func (s *UploadStep) Type() string {
	return StepTypeUpload
}

// ObjectKey возвращает ключ объекта для run.
func (s *UploadStep) ObjectKey(req *Request) string {
	return storage.ObjectKey(s.cfg.Prefix, s.cfg.Dataset, req.StartTimestamp())
}

// Execute загружает файл.
func (s *UploadStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	localPath, err := req.Input(s.cfg.SourceStep)
	if err != nil {
		return nil, err
	}

	obj, err := s.cfg.Store.Upload(ctx, s.cfg.Bucket, s.ObjectKey(req), localPath)
	if err != nil {
		return nil, err
	}

	return NewResponse(obj.URI), nil
}
