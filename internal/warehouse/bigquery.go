package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// tableAPI — операции BigQuery, которые использует BigQuery.
// Выделено для подмены в тестах.
type tableAPI interface {
	create(ctx context.Context, ref TableRef, meta *bigquery.TableMetadata) error
	delete(ctx context.Context, ref TableRef) error
}

// BigQuery — Warehouse поверх BigQuery.
type BigQuery struct {
	api    tableAPI
	close  func() error
	logger *slog.Logger
}

// NewBigQuery создаёт клиент BigQuery для проекта.
func NewBigQuery(ctx context.Context, projectID string, logger *slog.Logger, opts ...option.ClientOption) (*BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BigQuery{
		api:    &clientTables{client: client},
		close:  client.Close,
		logger: logger,
	}, nil
}

// CreateExternalTable регистрирует external table.
func (b *BigQuery) CreateExternalTable(ctx context.Context, table ExternalTable) error {
	// 1. Валидируем описание
	if err := table.Validate(); err != nil {
		return err
	}

	format := strings.ToUpper(table.SourceFormat)
	if format == "" {
		format = FormatParquet
	}

	meta := &bigquery.TableMetadata{
		ExternalDataConfig: &bigquery.ExternalDataConfig{
			SourceFormat: bigquery.DataFormat(format),
			SourceURIs:   append([]string(nil), table.SourceURIs...),
			AutoDetect:   table.Autodetect,
		},
	}

	// 2. Создаём таблицу
	err := b.api.create(ctx, table.Ref, meta)
	if err == nil {
		return nil
	}
	if !isHTTPStatus(err, http.StatusConflict) {
		return fmt.Errorf("create external table %s: %w", table.Ref, err)
	}

	// 3. Таблица уже есть, пересоздаём с новыми источниками
	b.logger.Info("external table exists, recreating",
		"table", table.Ref.String(),
	)
	if err := b.api.delete(ctx, table.Ref); err != nil && !isHTTPStatus(err, http.StatusNotFound) {
		return fmt.Errorf("delete existing table %s: %w", table.Ref, err)
	}
	if err := b.api.create(ctx, table.Ref, meta); err != nil {
		return fmt.Errorf("recreate external table %s: %w", table.Ref, err)
	}

	return nil
}

// DeleteTable удаляет таблицу.
func (b *BigQuery) DeleteTable(ctx context.Context, ref TableRef, ignoreIfMissing bool) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	err := b.api.delete(ctx, ref)
	if err == nil {
		return nil
	}

	if isHTTPStatus(err, http.StatusNotFound) {
		if ignoreIfMissing {
			b.logger.Info("table already absent", "table", ref.String())
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTableNotFound, ref)
	}

	return fmt.Errorf("delete table %s: %w", ref, err)
}

// Close закрывает клиент.
func (b *BigQuery) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// isHTTPStatus проверяет код ответа Google API.
func isHTTPStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// clientTables — tableAPI поверх *bigquery.Client.
type clientTables struct {
	client *bigquery.Client
}

func (c *clientTables) create(ctx context.Context, ref TableRef, meta *bigquery.TableMetadata) error {
	return c.client.DatasetInProject(ref.Project, ref.Dataset).Table(ref.Table).Create(ctx, meta)
}

func (c *clientTables) delete(ctx context.Context, ref TableRef) error {
	return c.client.DatasetInProject(ref.Project, ref.Dataset).Table(ref.Table).Delete(ctx)
}
