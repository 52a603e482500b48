// Package warehouse управляет таблицами в хранилище данных.
//
// Pipeline регистрирует загруженные файлы как external table
// и удаляет staging-таблицу в конце run. Реализация — BigQuery.
package warehouse
