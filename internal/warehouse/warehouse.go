package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Ошибки warehouse.
var (
	// ErrTableNotFound — таблица не существует.
	ErrTableNotFound = errors.New("table not found")

	// ErrInvalidTableRef — невалидная ссылка на таблицу.
	ErrInvalidTableRef = errors.New("invalid table reference")

	// ErrNoSourceURIs — external table без источников.
	ErrNoSourceURIs = errors.New("external table has no source URIs")
)

// Форматы источников external table.
const (
	FormatParquet = "PARQUET"
	FormatCSV     = "CSV"
)

// TableRef — полная ссылка на таблицу.
type TableRef struct {
	Project string `json:"project"`
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
}

// String возвращает "project.dataset.table".
func (r TableRef) String() string {
	return r.Project + "." + r.Dataset + "." + r.Table
}

// Validate проверяет, что все части заданы.
func (r TableRef) Validate() error {
	if r.Project == "" || r.Dataset == "" || r.Table == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTableRef, r.String())
	}
	return nil
}

// ParseTableRef парсит "project.dataset.table".
func ParseTableRef(s string) (TableRef, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return TableRef{}, fmt.Errorf("%w: %q", ErrInvalidTableRef, s)
	}
	ref := TableRef{Project: parts[0], Dataset: parts[1], Table: parts[2]}
	if err := ref.Validate(); err != nil {
		return TableRef{}, err
	}
	return ref, nil
}

// ExternalTable — описание external table.
type ExternalTable struct {
	// Ref — куда регистрировать таблицу.
	Ref TableRef

	// SourceFormat — формат файлов (PARQUET, CSV).
	SourceFormat string

	// SourceURIs — адреса файлов в объектном хранилище.
	SourceURIs []string

	// Autodetect — определять схему по данным.
	Autodetect bool
}

// Validate проверяет описание.
func (t ExternalTable) Validate() error {
	if err := t.Ref.Validate(); err != nil {
		return err
	}
	if len(t.SourceURIs) == 0 {
		return fmt.Errorf("%w: %s", ErrNoSourceURIs, t.Ref)
	}
	return nil
}

// Warehouse — операции с таблицами хранилища данных.
type Warehouse interface {
	// CreateExternalTable регистрирует external table.
	// Если таблица уже есть, она пересоздаётся с новыми источниками.
	CreateExternalTable(ctx context.Context, table ExternalTable) error

	// DeleteTable удаляет таблицу.
	// Если таблицы нет: при ignoreIfMissing возвращает nil, иначе ErrTableNotFound.
	DeleteTable(ctx context.Context, ref TableRef, ignoreIfMissing bool) error
}
