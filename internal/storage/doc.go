// Package storage загружает артефакты pipeline в объектное хранилище.
//
// Реализации ObjectStore взаимозаменяемы, выбор делается конфигурацией:
//   - gcs.go   — Google Cloud Storage
//   - minio.go — MinIO и другие S3-совместимые хранилища
//   - s3.go    — AWS S3
//
// Все реализации грузят данные частями по ChunkSize.
package storage
