package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/batchflow/internal/warehouse"
)

// StepTypeExternalTable — тип шага регистрации external table.
const StepTypeExternalTable = "external_table"

// ExternalTableConfig — конфигурация ExternalTableStep.
type ExternalTableConfig struct {
	Warehouse warehouse.Warehouse
	Table     warehouse.TableRef

	// SourceFormat — формат файлов. По умолчанию PARQUET.
	SourceFormat string

	// SourceStep — шаг, чей output содержит URI файлов.
	SourceStep string
}

// ExternalTableStep — регистрация загруженных файлов как external table.
// Схема определяется автоматически. Output — ссылка на таблицу.
type ExternalTableStep struct {
	cfg ExternalTableConfig
}

// NewExternalTableStep создаёт ExternalTableStep.
func NewExternalTableStep(cfg ExternalTableConfig) (*ExternalTableStep, error) {
	if cfg.Warehouse == nil {
		return nil, fmt.Errorf("%w: %s: warehouse is required", ErrInvalidConfig, StepTypeExternalTable)
	}
	if err := cfg.Table.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, StepTypeExternalTable, err)
	}
	if cfg.SourceStep == "" {
		return nil, fmt.Errorf("%w: %s: source step is required", ErrInvalidConfig, StepTypeExternalTable)
	}
	if cfg.SourceFormat == "" {
		cfg.SourceFormat = warehouse.FormatParquet
	}
	return &ExternalTableStep{cfg: cfg}, nil
}

// Type возвращает тип шага.
func (s *ExternalTableStep) Type() string {
	return StepTypeExternalTable
}

// Execute регистрирует таблицу.
func (s *ExternalTableStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	uri, err := req.Input(s.cfg.SourceStep)
	if err != nil {
		return nil, err
	}

	err = s.cfg.Warehouse.CreateExternalTable(ctx, warehouse.ExternalTable{
		Ref:          s.cfg.Table,
		SourceFormat: s.cfg.SourceFormat,
		SourceURIs:   []string{uri},
		Autodetect:   true,
	})
	if err != nil {
		return nil, err
	}

	return NewResponse(s.cfg.Table.String()), nil
}
