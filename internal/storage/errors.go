package storage

import "errors"

// Ошибки объектного хранилища.
var (
	// ErrUnknownBackend — неизвестный тип хранилища в конфигурации.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrInvalidConfig — невалидная конфигурация хранилища.
	ErrInvalidConfig = errors.New("invalid storage config")

	// ErrEmptyBucket — не указан bucket.
	ErrEmptyBucket = errors.New("bucket is required")

	// ErrEmptyKey — не указан ключ объекта.
	ErrEmptyKey = errors.New("object key is required")

	// ErrNoFiles — в директории нет файлов для загрузки.
	ErrNoFiles = errors.New("no files to upload")

	// ErrUnsupportedFile — путь не является обычным файлом или директорией.
	ErrUnsupportedFile = errors.New("unsupported file type")
)
