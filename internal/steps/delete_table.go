package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/batchflow/internal/warehouse"
)

// StepTypeDeleteTable — тип шага удаления таблицы.
const StepTypeDeleteTable = "delete_table"

// DeleteTableStep — удаление таблицы в warehouse.
type DeleteTableStep struct {
	wh              warehouse.Warehouse
	table           warehouse.TableRef
	ignoreIfMissing bool
}

// NewDeleteTableStep создаёт DeleteTableStep.
// При ignoreIfMissing отсутствие таблицы считается успехом.
func NewDeleteTableStep(wh warehouse.Warehouse, table warehouse.TableRef, ignoreIfMissing bool) (*DeleteTableStep, error) {
	if wh == nil {
		return nil, fmt.Errorf("%w: %s: warehouse is required", ErrInvalidConfig, StepTypeDeleteTable)
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, StepTypeDeleteTable, err)
	}
	return &DeleteTableStep{wh: wh, table: table, ignoreIfMissing: ignoreIfMissing}, nil
}

// Type возвращает тип шага.
func (s *DeleteTableStep) Type() string {
	return StepTypeDeleteTable
}

// Execute удаляет таблицу.
func (s *DeleteTableStep) Execute(ctx context.Context, _ *Request) (*Response, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	if err := s.wh.DeleteTable(ctx, s.table, s.ignoreIfMissing); err != nil {
		return nil, err
	}

	return NewResponse(s.table.String()), nil
}
